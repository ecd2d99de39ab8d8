package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/rs/zerolog"
)

// ErrEngineStopped is returned by calls made after the engine was stopped.
var ErrEngineStopped = errors.New("fleet engine is stopped")

// Dispatcher receives a copy of every accepted message. Dispatch must not block.
type Dispatcher interface {
	Dispatch(job persistence.Job)
}

// AssignmentLookup resolves the display name and customer of a device.
type AssignmentLookup interface {
	Lookup(deviceID string) models.Assignment
}

// EngineConfig tunes the engine. Zero values fall back to the defaults.
type EngineConfig struct {
	SweepInterval  time.Duration
	StaleThreshold time.Duration
	HistoryLimit   int
	InboxSize      int
	Clock          func() time.Time
}

func (c *EngineConfig) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = constants.DefaultSweepInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = constants.DefaultStaleThreshold
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = constants.HistoryLimit
	}
	if c.InboxSize <= 0 {
		c.InboxSize = constants.DefaultInboxSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Engine is the single owner of fleet State. Messages, liveness sweeps and
// read queries are serialised on one goroutine; readers only ever see copies.
type Engine struct {
	config      EngineConfig
	state       *State
	decoder     *ingest.Decoder
	classifier  *ingest.Classifier
	stats       *ingest.Stats
	dispatcher  Dispatcher
	assignments AssignmentLookup
	logger      zerolog.Logger

	inbox   chan ingest.Message
	queries chan func(*State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewEngine creates an engine. dispatcher and assignments may be nil.
func NewEngine(config EngineConfig, dispatcher Dispatcher, assignments AssignmentLookup, logger zerolog.Logger) *Engine {
	config.applyDefaults()
	stats := ingest.NewStats()
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config:      config,
		state:       NewState(config.HistoryLimit),
		decoder:     ingest.NewDecoder(config.Clock),
		classifier:  ingest.NewClassifier(stats, logger),
		stats:       stats,
		dispatcher:  dispatcher,
		assignments: assignments,
		logger:      logger,
		inbox:       make(chan ingest.Message, config.InboxSize),
		queries:     make(chan func(*State)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the event loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		e.logger.Warn().Msg("Fleet engine is already running")
		return errors.New("fleet engine is already running")
	}
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	e.started = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()

	e.logger.Info().
		Dur("sweep_interval", e.config.SweepInterval).
		Dur("stale_threshold", e.config.StaleThreshold).
		Msg("Fleet engine started successfully")
	return nil
}

// Stop terminates the event loop. Messages still in the inbox are discarded.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.logger.Warn().Msg("Fleet engine is not running")
		return errors.New("fleet engine is not running")
	}
	e.started = false

	e.cancel()
	e.wg.Wait()

	e.logger.Info().Msg("Fleet engine stopped successfully")
	return nil
}

// HandleMessage is the transport callback: it decodes and submits one
// delivery. It blocks while the inbox is full so arrival order is kept.
func (e *Engine) HandleMessage(topic string, payload []byte) {
	if err := e.Submit(e.decoder.Decode(topic, payload)); err != nil {
		e.logger.Debug().Err(err).Str("topic", topic).Msg("Dropping message")
	}
}

// Submit classifies env and queues it for the reducer. Rejected envelopes
// are counted and dropped here.
func (e *Engine) Submit(env models.Envelope) error {
	msg := e.classifier.Classify(env)
	if !msg.Accepted() {
		return nil
	}
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}

	select {
	case e.inbox <- msg:
		return nil
	case <-e.ctx.Done():
		return ErrEngineStopped
	}
}

// Snapshot returns a deep copy of the whole fleet.
func (e *Engine) Snapshot(ctx context.Context) (models.FleetSnapshot, error) {
	var snap models.FleetSnapshot
	err := e.do(ctx, func(s *State) {
		snap = s.Snapshot()
	})
	return snap, err
}

// Device returns a copy of one device record.
func (e *Engine) Device(ctx context.Context, id string) (models.DeviceRecord, bool, error) {
	var (
		record models.DeviceRecord
		found  bool
	)
	err := e.do(ctx, func(s *State) {
		record, found = s.Device(id)
	})
	return record, found, err
}

// Counts returns the number of known and online devices.
func (e *Engine) Counts(ctx context.Context) (total, online int, err error) {
	err = e.do(ctx, func(s *State) {
		total, online = s.Len(), s.Online()
	})
	return total, online, err
}

// Sweep runs a liveness sweep immediately and returns the ids marked offline.
func (e *Engine) Sweep(ctx context.Context) ([]string, error) {
	var flipped []string
	err := e.do(ctx, func(s *State) {
		flipped = e.sweep(s)
	})
	return flipped, err
}

// Stats returns the classifier counters.
func (e *Engine) Stats() ingest.StatsSnapshot {
	return e.stats.Snapshot()
}

func (e *Engine) do(ctx context.Context, fn func(*State)) error {
	done := make(chan struct{})
	query := func(s *State) {
		fn(s)
		close(done)
	}

	select {
	case e.queries <- query:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineStopped
	}
}

func (e *Engine) run() {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-e.inbox:
			e.apply(msg)
		case query := <-e.queries:
			e.drain()
			query(e.state)
		case <-ticker.C:
			e.drain()
			e.sweep(e.state)
		case <-e.ctx.Done():
			e.logger.Info().Int("pending", len(e.inbox)).Msg("Fleet engine stopping gracefully")
			return
		}
	}
}

// drain applies everything already queued so queries and sweeps observe
// every message submitted before them.
func (e *Engine) drain() {
	for {
		select {
		case msg := <-e.inbox:
			e.apply(msg)
		default:
			return
		}
	}
}

func (e *Engine) apply(msg ingest.Message) {
	now := msg.Envelope.ReceivedAt
	if !e.state.Apply(msg, now) {
		return
	}

	if e.dispatcher == nil {
		return
	}

	job := persistence.Job{
		Device: persistence.DeviceUpsert{
			ID:       msg.DeviceID,
			IsOnline: true,
			LastSeen: now,
		},
		Envelope: msg.Envelope,
	}
	if e.assignments != nil {
		assignment := e.assignments.Lookup(msg.DeviceID)
		job.Device.DisplayName = assignment.DisplayName
		job.Device.CustomerID = assignment.CustomerID
	}

	switch msg.Kind {
	case ingest.KindTelemetry:
		telemetry := msg.Telemetry
		job.Telemetry = &telemetry
	case ingest.KindStatus:
		status := msg.Status
		job.Status = &status
	}

	e.dispatcher.Dispatch(job)
}

func (e *Engine) sweep(s *State) []string {
	flipped := s.Sweep(e.config.Clock(), e.config.StaleThreshold)
	for _, id := range flipped {
		e.logger.Info().Str("device_id", id).Msg("Device marked offline")
	}
	return flipped
}
