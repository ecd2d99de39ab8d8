package persistence_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/mocks"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func telemetryJob(ts *string) persistence.Job {
	tds := 120.0
	return persistence.Job{
		Device:    persistence.DeviceUpsert{ID: "dev1", IsOnline: true, LastSeen: receivedAt},
		Envelope:  models.Envelope{ID: "1-als/dev1/tele-1", Topic: "als/dev1/tele", Payload: `{"device_id":"dev1","tds":120}`, ReceivedAt: receivedAt},
		Telemetry: &models.TelemetryPayload{DeviceID: "dev1", TDS: &tds, TS: ts},
	}
}

func waitFor(t *testing.T, d *persistence.Dispatcher, cond func(persistence.DispatchStats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(d.Stats()) }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_PersistsTelemetry(t *testing.T) {
	sink := new(mocks.MockSink)
	job := telemetryJob(nil)
	sink.On("UpsertDevice", mock.Anything, job.Device).Return(nil).Once()
	sink.On("InsertMessage", mock.Anything, "dev1", job.Envelope).Return(nil).Once()
	sink.On("InsertTelemetry", mock.Anything, *job.Telemetry, receivedAt).Return(nil).Once()
	sink.On("Close").Return(nil)

	d := persistence.NewDispatcher(sink, 2, 8, zerolog.Nop())
	require.NoError(t, d.Start())

	d.Dispatch(job)
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Persisted == 1 })

	require.NoError(t, d.Stop())
	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "InsertStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_UsesDeviceTimestamp(t *testing.T) {
	sink := new(mocks.MockSink)
	ts := "2024-05-01T11:59:58Z"
	job := telemetryJob(&ts)
	sink.On("UpsertDevice", mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertTelemetry", mock.Anything, mock.Anything, time.Date(2024, 5, 1, 11, 59, 58, 0, time.UTC)).Return(nil).Once()
	sink.On("Close").Return(nil)

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())
	require.NoError(t, d.Start())

	d.Dispatch(job)
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Persisted == 1 })

	require.NoError(t, d.Stop())
	sink.AssertExpectations(t)
}

func TestDispatcher_PersistsStatus(t *testing.T) {
	sink := new(mocks.MockSink)
	event := "boot"
	job := persistence.Job{
		Device:   persistence.DeviceUpsert{ID: "dev2", IsOnline: true, LastSeen: receivedAt},
		Envelope: models.Envelope{ID: "x", Topic: "als/dev2/stat", ReceivedAt: receivedAt},
		Status:   &models.StatusPayload{DeviceID: "dev2", Event: &event},
	}
	sink.On("UpsertDevice", mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertMessage", mock.Anything, "dev2", mock.Anything).Return(nil)
	sink.On("InsertStatus", mock.Anything, *job.Status, receivedAt).Return(nil).Once()
	sink.On("Close").Return(nil)

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())
	require.NoError(t, d.Start())

	d.Dispatch(job)
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Persisted == 1 })

	require.NoError(t, d.Stop())
	sink.AssertExpectations(t)
}

func TestDispatcher_StopsAtFirstFailure(t *testing.T) {
	sink := new(mocks.MockSink)
	sink.On("UpsertDevice", mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("table missing"))
	sink.On("Close").Return(nil)

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())
	require.NoError(t, d.Start())

	d.Dispatch(telemetryJob(nil))
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Failed == 1 })

	require.NoError(t, d.Stop())
	assert.Equal(t, uint64(0), d.Stats().Persisted)
	sink.AssertNotCalled(t, "InsertTelemetry", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_OverflowDoesNotBlock(t *testing.T) {
	sink := new(mocks.MockSink)
	release := make(chan time.Time)
	sink.On("UpsertDevice", mock.Anything, mock.Anything).Return(nil).WaitUntil(release)
	sink.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertTelemetry", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("Close").Return(nil)

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())
	require.NoError(t, d.Start())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Dispatch(telemetryJob(nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a busy sink")
	}

	close(release)
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Persisted == 5 })

	stats := d.Stats()
	assert.Equal(t, uint64(5), stats.Dispatched)
	assert.GreaterOrEqual(t, stats.Overflowed, uint64(3))
	require.NoError(t, d.Stop())
}

func TestDispatcher_DropsWhenNotRunning(t *testing.T) {
	sink := new(mocks.MockSink)
	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())

	d.Dispatch(telemetryJob(nil))

	assert.Equal(t, uint64(1), d.Stats().Dropped)
	sink.AssertNotCalled(t, "UpsertDevice", mock.Anything, mock.Anything)
}

func TestDispatcher_Lifecycle(t *testing.T) {
	sink := new(mocks.MockSink)
	sink.On("Close").Return(errors.New("close failed")).Once()

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())

	assert.Error(t, d.Stop())
	require.NoError(t, d.Start())
	assert.Error(t, d.Start())
	assert.EqualError(t, d.Stop(), "close failed")
}

func TestDispatcher_StopWaitsForOverflowBeforeClosingSink(t *testing.T) {
	jobFor := func(id string) persistence.Job {
		job := telemetryJob(nil)
		job.Device.ID = id
		return job
	}
	byID := func(id string) any {
		return mock.MatchedBy(func(d persistence.DeviceUpsert) bool { return d.ID == id })
	}

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}

	busy := make(chan time.Time)
	overflowRelease := make(chan time.Time)

	sink := new(mocks.MockSink)
	sink.On("UpsertDevice", mock.Anything, byID("busy")).Return(nil).WaitUntil(busy)
	sink.On("UpsertDevice", mock.Anything, byID("queued")).Return(nil)
	sink.On("UpsertDevice", mock.Anything, byID("overflow")).Return(nil).WaitUntil(overflowRelease)
	sink.On("InsertMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sink.On("InsertTelemetry", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(record("telemetry"))
	sink.On("Close").Return(nil).Run(record("close"))

	d := persistence.NewDispatcher(sink, 1, 1, zerolog.Nop())
	require.NoError(t, d.Start())

	d.Dispatch(jobFor("busy"))
	require.Eventually(t, func() bool { return d.Stats().Pending == 0 }, time.Second, 5*time.Millisecond)
	d.Dispatch(jobFor("queued"))
	d.Dispatch(jobFor("overflow"))
	require.Equal(t, uint64(1), d.Stats().Overflowed)

	close(busy)
	waitFor(t, d, func(s persistence.DispatchStats) bool { return s.Persisted == 2 })

	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an overflow job was still writing")
	case <-time.After(50 * time.Millisecond):
	}
	sink.AssertNotCalled(t, "Close")

	close(overflowRelease)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, calls)
	assert.Equal(t, "close", calls[len(calls)-1])
	assert.Equal(t, 1, countOf(calls, "close"))
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
