package ingest

import (
	"sync/atomic"

	"github.com/benmeehan/fleet-monitor/internal/constants"
)

// Stats counts classifier outcomes. Safe for concurrent use.
type Stats struct {
	telemetry       atomic.Uint64
	status          atomic.Uint64
	unrecognized    atomic.Uint64
	invalidJSON     atomic.Uint64
	missingDeviceID atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Telemetry       uint64 `json:"telemetry"`
	Status          uint64 `json:"status"`
	Unrecognized    uint64 `json:"unrecognized"`
	InvalidJSON     uint64 `json:"invalid_json"`
	MissingDeviceID uint64 `json:"missing_device_id"`
}

// Accepted is the number of messages that reached the reducer.
func (s StatsSnapshot) Accepted() uint64 {
	return s.Telemetry + s.Status + s.Unrecognized
}

// Rejected is the number of messages dropped by the classifier.
func (s StatsSnapshot) Rejected() uint64 {
	return s.InvalidJSON + s.MissingDeviceID
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) record(msg Message) {
	switch msg.Kind {
	case KindTelemetry:
		s.telemetry.Add(1)
	case KindStatus:
		s.status.Add(1)
	case KindUnrecognized:
		s.unrecognized.Add(1)
	case KindRejected:
		switch msg.Reason {
		case constants.RejectInvalidJSON:
			s.invalidJSON.Add(1)
		case constants.RejectMissingDeviceID:
			s.missingDeviceID.Add(1)
		}
	}
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Telemetry:       s.telemetry.Load(),
		Status:          s.status.Load(),
		Unrecognized:    s.unrecognized.Load(),
		InvalidJSON:     s.invalidJSON.Load(),
		MissingDeviceID: s.missingDeviceID.Load(),
	}
}
