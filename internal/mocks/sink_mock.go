package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/stretchr/testify/mock"
)

// MockSink is a mock implementation of the persistence.Sink interface
type MockSink struct {
	mock.Mock
}

func (m *MockSink) UpsertDevice(ctx context.Context, device persistence.DeviceUpsert) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockSink) InsertMessage(ctx context.Context, deviceID string, env models.Envelope) error {
	args := m.Called(ctx, deviceID, env)
	return args.Error(0)
}

func (m *MockSink) InsertTelemetry(ctx context.Context, telemetry models.TelemetryPayload, timestamp time.Time) error {
	args := m.Called(ctx, telemetry, timestamp)
	return args.Error(0)
}

func (m *MockSink) InsertStatus(ctx context.Context, status models.StatusPayload, timestamp time.Time) error {
	args := m.Called(ctx, status, timestamp)
	return args.Error(0)
}

func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}
