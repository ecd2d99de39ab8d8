package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(topic, payload string) models.Envelope {
	return models.Envelope{
		ID:         "1-" + topic,
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestClassifier_Telemetry(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/dev1/tele", `{"device_id":"dev1","tds":120,"temp":22.5,"flow_clean":"1.5","fw":"1.2.0"}`))

	require.Equal(t, KindTelemetry, msg.Kind)
	assert.Equal(t, "dev1", msg.DeviceID)
	require.NotNil(t, msg.Telemetry.TDS)
	assert.Equal(t, 120.0, *msg.Telemetry.TDS)
	assert.Equal(t, 22.5, *msg.Telemetry.Temp)
	assert.Equal(t, 1.5, *msg.Telemetry.FlowClean)
	assert.Nil(t, msg.Telemetry.FlowWaste)
	assert.Equal(t, "1.2.0", *msg.Telemetry.FW)
	assert.True(t, msg.Status.IsZero())
}

func TestClassifier_Status(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/dev2/stat", `{"device_id":"dev2","event":"boot","rssi":-61,"uptime_ms":1200,"ip":"10.0.0.7"}`))

	require.Equal(t, KindStatus, msg.Kind)
	assert.Equal(t, "boot", *msg.Status.Event)
	assert.Equal(t, int64(-61), *msg.Status.RSSI)
	assert.Equal(t, int64(1200), *msg.Status.UptimeMs)
	assert.Equal(t, "10.0.0.7", *msg.Status.IP)
	assert.Nil(t, msg.Status.IntervalMs)
	assert.True(t, msg.Telemetry.IsZero())
}

func TestClassifier_Unrecognized(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/dev3/log", `{"device_id":"dev3","line":"hello"}`))

	assert.Equal(t, KindUnrecognized, msg.Kind)
	assert.True(t, msg.Accepted())
	assert.Equal(t, "dev3", msg.DeviceID)
}

func TestClassifier_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"not json", `{device_id: dev1`, constants.RejectInvalidJSON},
		{"array", `[{"device_id":"dev1"}]`, constants.RejectInvalidJSON},
		{"trailing data", `{"device_id":"dev1"} {}`, constants.RejectInvalidJSON},
		{"empty", ``, constants.RejectInvalidJSON},
		{"missing id", `{"tds":120}`, constants.RejectMissingDeviceID},
		{"empty id", `{"device_id":""}`, constants.RejectMissingDeviceID},
		{"zero id", `{"device_id":0}`, constants.RejectMissingDeviceID},
		{"bool id", `{"device_id":true}`, constants.RejectMissingDeviceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(nil, zerolog.Nop())
			msg := c.Classify(envelope("als/dev1/tele", tt.payload))

			assert.Equal(t, KindRejected, msg.Kind)
			assert.False(t, msg.Accepted())
			assert.Equal(t, tt.reason, msg.Reason)
		})
	}
}

func TestClassifier_NumericDeviceID(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/42/tele", `{"device_id":42}`))

	assert.Equal(t, KindTelemetry, msg.Kind)
	assert.Equal(t, "42", msg.DeviceID)
}

func TestClassifier_BadFieldsBecomeNil(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/dev1/tele", `{"device_id":"dev1","tds":"high","temp":null,"flow_clean":{}}`))

	require.Equal(t, KindTelemetry, msg.Kind)
	assert.Nil(t, msg.Telemetry.TDS)
	assert.Nil(t, msg.Telemetry.Temp)
	assert.Nil(t, msg.Telemetry.FlowClean)
}

func TestClassifier_IntegerFieldsOutOfRange(t *testing.T) {
	c := NewClassifier(nil, zerolog.Nop())

	msg := c.Classify(envelope("als/dev2/stat",
		`{"device_id":"dev2","uptime_ms":9223372036854775808,"interval_ms":1e19,"rssi":-9223372036854775808}`))

	require.Equal(t, KindStatus, msg.Kind)
	assert.Nil(t, msg.Status.UptimeMs)
	assert.Nil(t, msg.Status.IntervalMs)
	require.NotNil(t, msg.Status.RSSI)
	assert.Equal(t, int64(math.MinInt64), *msg.Status.RSSI)
}

func TestClassifier_Stats(t *testing.T) {
	stats := NewStats()
	c := NewClassifier(stats, zerolog.Nop())

	c.Classify(envelope("als/dev1/tele", `{"device_id":"dev1"}`))
	c.Classify(envelope("als/dev1/stat", `{"device_id":"dev1"}`))
	c.Classify(envelope("als/dev1/other", `{"device_id":"dev1"}`))
	c.Classify(envelope("als/dev1/tele", `nope`))
	c.Classify(envelope("als/dev1/tele", `{}`))
	c.Classify(envelope("als/dev1/tele", `{}`))

	snap := stats.Snapshot()
	assert.Equal(t, StatsSnapshot{
		Telemetry:       1,
		Status:          1,
		Unrecognized:    1,
		InvalidJSON:     1,
		MissingDeviceID: 2,
	}, snap)
	assert.Equal(t, uint64(3), snap.Accepted())
	assert.Equal(t, uint64(3), snap.Rejected())
}
