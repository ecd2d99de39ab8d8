package fleet

import (
	"fmt"
	"testing"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func classify(t *testing.T, topic, payload string, at time.Time) ingest.Message {
	t.Helper()
	c := ingest.NewClassifier(nil, zerolog.Nop())
	return c.Classify(models.Envelope{
		ID:         fmt.Sprintf("%d-%s", at.UnixNano(), topic),
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: at,
	})
}

func TestState_TelemetryScenario(t *testing.T) {
	s := NewState(0)

	ok := s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1","tds":120,"temp":22.5}`, t0), t0)
	require.True(t, ok)

	rec, found := s.Device("dev1")
	require.True(t, found)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, t0, rec.LastSeen)
	assert.Equal(t, 120.0, *rec.LatestTelemetry.TDS)
	assert.Len(t, rec.MessageHistory, 1)
	assert.True(t, rec.StatusInfo.IsZero())
}

func TestState_TelemetryLastWriteWins(t *testing.T) {
	s := NewState(0)

	s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1","tds":120,"temp":22.5}`, t0), t0)
	s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1","tds":90}`, t0.Add(time.Second)), t0.Add(time.Second))

	rec, _ := s.Device("dev1")
	assert.Equal(t, 90.0, *rec.LatestTelemetry.TDS)
	assert.Nil(t, rec.LatestTelemetry.Temp, "telemetry is replaced, not merged")
}

func TestState_StatusLeavesTelemetry(t *testing.T) {
	s := NewState(0)

	s.Apply(classify(t, "als/dev2/tele", `{"device_id":"dev2","tds":50}`, t0), t0)
	s.Apply(classify(t, "als/dev2/stat", `{"device_id":"dev2","event":"boot"}`, t0), t0)

	rec, _ := s.Device("dev2")
	assert.Equal(t, "boot", *rec.StatusInfo.Event)
	assert.Equal(t, 50.0, *rec.LatestTelemetry.TDS)
	assert.Len(t, rec.MessageHistory, 2)
}

func TestState_StatusOnNewDevice(t *testing.T) {
	s := NewState(0)

	s.Apply(classify(t, "als/dev2/stat", `{"device_id":"dev2","event":"boot"}`, t0), t0)

	rec, _ := s.Device("dev2")
	assert.Equal(t, "boot", *rec.StatusInfo.Event)
	assert.True(t, rec.LatestTelemetry.IsZero())
}

func TestState_UnrecognizedTouchesLivenessOnly(t *testing.T) {
	s := NewState(0)

	s.Apply(classify(t, "als/dev3/log", `{"device_id":"dev3","tds":10}`, t0), t0)

	rec, found := s.Device("dev3")
	require.True(t, found)
	assert.True(t, rec.IsOnline)
	assert.True(t, rec.LatestTelemetry.IsZero())
	assert.True(t, rec.StatusInfo.IsZero())
	assert.Len(t, rec.MessageHistory, 1)
}

func TestState_RejectedIsNoop(t *testing.T) {
	s := NewState(0)

	assert.False(t, s.Apply(classify(t, "als/dev1/tele", `not json`, t0), t0))
	assert.False(t, s.Apply(classify(t, "als/dev1/tele", `{"tds":1}`, t0), t0))

	assert.Equal(t, 0, s.Len())
	_, found := s.Device("dev1")
	assert.False(t, found)
}

func TestState_ReplayAddsHistory(t *testing.T) {
	s := NewState(0)
	payload := `{"device_id":"dev1","tds":120}`

	s.Apply(classify(t, "als/dev1/tele", payload, t0), t0)
	first, _ := s.Device("dev1")
	s.Apply(classify(t, "als/dev1/tele", payload, t0.Add(time.Millisecond)), t0.Add(time.Millisecond))
	second, _ := s.Device("dev1")

	assert.Equal(t, first.LatestTelemetry, second.LatestTelemetry)
	assert.Len(t, second.MessageHistory, 2)
	assert.NotEqual(t, second.MessageHistory[0].ID, second.MessageHistory[1].ID)
}

func TestState_HistoryCap(t *testing.T) {
	s := NewState(0)
	for i := 0; i < 501; i++ {
		at := t0.Add(time.Duration(i) * time.Millisecond)
		s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1"}`, at), at)
	}

	rec, _ := s.Device("dev1")
	require.Len(t, rec.MessageHistory, 500)
	assert.Equal(t, t0.Add(500*time.Millisecond), rec.MessageHistory[0].ReceivedAt)
	assert.Equal(t, t0.Add(time.Millisecond), rec.MessageHistory[499].ReceivedAt)
}

func TestState_SweepAndRecover(t *testing.T) {
	s := NewState(0)
	threshold := 35 * time.Second

	s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1"}`, t0), t0)

	assert.Empty(t, s.Sweep(t0.Add(threshold), threshold), "exactly at the threshold stays online")
	assert.Equal(t, []string{"dev1"}, s.Sweep(t0.Add(36*time.Second), threshold))

	rec, _ := s.Device("dev1")
	assert.False(t, rec.IsOnline)
	assert.Empty(t, s.Sweep(t0.Add(60*time.Second), threshold), "offline devices are not reported again")

	later := t0.Add(40 * time.Second)
	s.Apply(classify(t, "als/dev1/stat", `{"device_id":"dev1"}`, later), later)

	rec, _ = s.Device("dev1")
	assert.True(t, rec.IsOnline)
	assert.Equal(t, later, rec.LastSeen)
	assert.Equal(t, 1, s.Online())
}

func TestState_SnapshotIsDeepCopy(t *testing.T) {
	s := NewState(0)
	s.Apply(classify(t, "als/dev1/stat", `{"device_id":"dev1","event":"boot","rssi":-60}`, t0), t0)
	s.Apply(classify(t, "als/dev1/tele", `{"device_id":"dev1","tds":120}`, t0), t0)

	snap := s.Snapshot()
	rec := snap["dev1"]
	rec.MessageHistory[0].Payload = "mutated"
	rec.IsOnline = false
	*rec.LatestTelemetry.TDS = 999
	*rec.StatusInfo.Event = "hacked"
	*rec.StatusInfo.RSSI = 0

	one, _ := s.Device("dev1")
	*one.LatestTelemetry.TDS = 1

	fresh, _ := s.Device("dev1")
	assert.True(t, fresh.IsOnline)
	assert.Equal(t, `{"device_id":"dev1","tds":120}`, fresh.MessageHistory[0].Payload)
	require.NotNil(t, fresh.LatestTelemetry.TDS)
	assert.Equal(t, 120.0, *fresh.LatestTelemetry.TDS)
	assert.Equal(t, "boot", *fresh.StatusInfo.Event)
	assert.Equal(t, int64(-60), *fresh.StatusInfo.RSSI)
}
