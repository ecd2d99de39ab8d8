package persistence

import (
	"context"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/models"
)

// DeviceUpsert is the device row written for every accepted message.
type DeviceUpsert struct {
	ID          string
	DisplayName string
	CustomerID  string
	IsOnline    bool
	LastSeen    time.Time
}

// Job is one accepted message with everything the sink needs to record it.
// At most one of Telemetry and Status is set.
type Job struct {
	Device    DeviceUpsert
	Envelope  models.Envelope
	Telemetry *models.TelemetryPayload
	Status    *models.StatusPayload
}

// Sink is the external persistence store. Implementations are append/upsert
// only; nothing is read back by the ingestion core.
type Sink interface {
	UpsertDevice(ctx context.Context, device DeviceUpsert) error
	InsertMessage(ctx context.Context, deviceID string, env models.Envelope) error
	InsertTelemetry(ctx context.Context, telemetry models.TelemetryPayload, timestamp time.Time) error
	InsertStatus(ctx context.Context, status models.StatusPayload, timestamp time.Time) error
	Close() error
}

// eventTime prefers the device-reported timestamp when it parses as RFC 3339.
func eventTime(ts *string, fallback time.Time) time.Time {
	if ts == nil {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, *ts)
	if err != nil {
		return fallback
	}
	return t
}
