package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benmeehan/fleet-monitor/internal/utils"
	"github.com/rs/zerolog"
)

// DispatchStats is a point-in-time copy of the dispatcher counters.
type DispatchStats struct {
	Dispatched uint64 `json:"dispatched"`
	Persisted  uint64 `json:"persisted"`
	Failed     uint64 `json:"failed"`
	Overflowed uint64 `json:"overflowed"`
	Dropped    uint64 `json:"dropped"`
	Pending    int    `json:"pending"`
}

// Dispatcher forwards accepted messages to a Sink on a worker pool.
// Dispatch never blocks: when the queue is full the job runs on a detached
// goroutine instead. Sink failures are logged and counted, never retried.
type Dispatcher struct {
	sink      Sink
	workers   int
	queueSize int
	logger    zerolog.Logger

	mu     sync.RWMutex
	pool   *utils.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc

	// overflow tracks jobs running outside the pool.
	overflow sync.WaitGroup

	dispatched atomic.Uint64
	persisted  atomic.Uint64
	failed     atomic.Uint64
	overflowed atomic.Uint64
	dropped    atomic.Uint64
}

// NewDispatcher creates a Dispatcher for sink.
func NewDispatcher(sink Sink, workers, queueSize int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		workers:   workers,
		queueSize: queueSize,
		logger:    logger,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pool != nil {
		d.logger.Warn().Msg("Dispatcher is already running")
		return errors.New("persistence dispatcher is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.pool = utils.NewWorkerPool(d.workers, d.queueSize)

	d.logger.Info().Int("workers", d.workers).Int("queue_size", d.queueSize).Msg("Persistence dispatcher started")
	return nil
}

// Stop cancels in-flight sink calls, lets the workers drain the queue (jobs
// observed after cancellation are dropped), waits for overflow jobs and
// closes the sink.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	pool, cancel := d.pool, d.cancel
	d.pool = nil
	d.mu.Unlock()

	if pool == nil {
		d.logger.Warn().Msg("Dispatcher is not running")
		return errors.New("persistence dispatcher is not running")
	}

	cancel()
	pool.Shutdown()
	d.overflow.Wait()

	if err := d.sink.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close persistence sink")
		return err
	}

	d.logger.Info().Msg("Persistence dispatcher stopped")
	return nil
}

// Dispatch hands job to the sink asynchronously.
func (d *Dispatcher) Dispatch(job Job) {
	// Held until the job is queued or tracked so Stop cannot miss it.
	d.mu.RLock()
	defer d.mu.RUnlock()
	pool, ctx := d.pool, d.ctx

	if pool == nil {
		d.dropped.Add(1)
		d.logger.Warn().Str("device_id", job.Device.ID).Msg("Dispatcher not running, dropping message")
		return
	}

	d.dispatched.Add(1)
	err := pool.TrySubmit(func() { d.persist(ctx, job) })
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrQueueFull):
		d.overflowed.Add(1)
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.persist(ctx, job)
		}()
	default:
		d.dropped.Add(1)
		d.logger.Warn().Err(err).Str("device_id", job.Device.ID).Msg("Dropping message for persistence")
	}
}

func (d *Dispatcher) persist(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		d.dropped.Add(1)
		return
	}

	log := d.logger.With().Str("device_id", job.Device.ID).Str("topic", job.Envelope.Topic).Logger()

	if err := d.sink.UpsertDevice(ctx, job.Device); err != nil {
		d.fail(log, err, "Failed to upsert device")
		return
	}
	if err := d.sink.InsertMessage(ctx, job.Device.ID, job.Envelope); err != nil {
		d.fail(log, err, "Failed to insert message")
		return
	}

	switch {
	case job.Telemetry != nil:
		ts := eventTime(job.Telemetry.TS, job.Envelope.ReceivedAt)
		if err := d.sink.InsertTelemetry(ctx, *job.Telemetry, ts); err != nil {
			d.fail(log, err, "Failed to insert telemetry")
			return
		}
	case job.Status != nil:
		ts := eventTime(job.Status.TS, job.Envelope.ReceivedAt)
		if err := d.sink.InsertStatus(ctx, *job.Status, ts); err != nil {
			d.fail(log, err, "Failed to insert status")
			return
		}
	}

	d.persisted.Add(1)
	log.Debug().Msg("Message persisted")
}

func (d *Dispatcher) fail(log zerolog.Logger, err error, msg string) {
	d.failed.Add(1)
	log.Error().Err(err).Msg(msg)
}

// Stats returns the current dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	d.mu.RLock()
	pool := d.pool
	d.mu.RUnlock()

	stats := DispatchStats{
		Dispatched: d.dispatched.Load(),
		Persisted:  d.persisted.Load(),
		Failed:     d.failed.Load(),
		Overflowed: d.overflowed.Load(),
		Dropped:    d.dropped.Load(),
	}
	if pool != nil {
		stats.Pending = pool.Pending()
	}
	return stats
}
