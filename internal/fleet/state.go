package fleet

import (
	"sort"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/models"
)

type device struct {
	id        string
	isOnline  bool
	lastSeen  time.Time
	telemetry models.TelemetryPayload
	status    models.StatusPayload
	history   *History
}

func (d *device) record() models.DeviceRecord {
	return models.DeviceRecord{
		ID:              d.id,
		IsOnline:        d.isOnline,
		LastSeen:        d.lastSeen,
		LatestTelemetry: d.telemetry.Clone(),
		StatusInfo:      d.status.Clone(),
		MessageHistory:  d.history.Slice(),
	}
}

// State is the fleet state: device id to record. It is not safe for
// concurrent use; the Engine owns it and serialises every transition.
type State struct {
	devices      map[string]*device
	historyLimit int
}

// NewState creates an empty fleet.
func NewState(historyLimit int) *State {
	return &State{
		devices:      make(map[string]*device),
		historyLimit: historyLimit,
	}
}

// Apply is the reducer. It marks the device online, stamps lastSeen, pushes
// the envelope onto its history and replaces the typed payload wholesale for
// telemetry and status frames. Rejected messages leave the state untouched.
func (s *State) Apply(msg ingest.Message, now time.Time) bool {
	if !msg.Accepted() {
		return false
	}

	d, ok := s.devices[msg.DeviceID]
	if !ok {
		d = &device{
			id:      msg.DeviceID,
			history: NewHistory(s.historyLimit),
		}
		s.devices[msg.DeviceID] = d
	}

	d.isOnline = true
	d.lastSeen = now
	d.history.Push(msg.Envelope)

	switch msg.Kind {
	case ingest.KindTelemetry:
		d.telemetry = msg.Telemetry
	case ingest.KindStatus:
		d.status = msg.Status
	}
	return true
}

// Sweep marks online devices silent for longer than threshold as offline and
// returns their ids in sorted order.
func (s *State) Sweep(now time.Time, threshold time.Duration) []string {
	var flipped []string
	for id, d := range s.devices {
		if d.isOnline && now.Sub(d.lastSeen) > threshold {
			d.isOnline = false
			flipped = append(flipped, id)
		}
	}
	sort.Strings(flipped)
	return flipped
}

// Device returns a copy of one record.
func (s *State) Device(id string) (models.DeviceRecord, bool) {
	d, ok := s.devices[id]
	if !ok {
		return models.DeviceRecord{}, false
	}
	return d.record(), true
}

// Snapshot returns a deep copy of the whole fleet.
func (s *State) Snapshot() models.FleetSnapshot {
	snap := make(models.FleetSnapshot, len(s.devices))
	for id, d := range s.devices {
		snap[id] = d.record()
	}
	return snap
}

// Len returns the number of known devices.
func (s *State) Len() int {
	return len(s.devices)
}

// Online returns the number of devices currently online.
func (s *State) Online() int {
	n := 0
	for _, d := range s.devices {
		if d.isOnline {
			n++
		}
	}
	return n
}
