package models

// StatusPayload is a device status frame published on <namespace>/<id>/stat.
type StatusPayload struct {
	DeviceID string `json:"device_id,omitempty"`

	// Event names the condition that triggered the frame, e.g. "boot".
	Event *string `json:"event,omitempty"`
	TS    *string `json:"ts,omitempty"`
	FW    *string `json:"fw,omitempty"`
	IP    *string `json:"ip,omitempty"`

	// RSSI is in dBm.
	RSSI       *int64 `json:"rssi,omitempty"`
	UptimeMs   *int64 `json:"uptime_ms,omitempty"`
	IntervalMs *int64 `json:"interval_ms,omitempty"`

	// Status is "online" or "offline" as reported by the firmware itself.
	Status *string `json:"status,omitempty"`
}

// IsZero reports whether no status has been accepted yet.
func (s StatusPayload) IsZero() bool {
	return s.DeviceID == ""
}

// Clone returns a copy that shares no pointers with s.
func (s StatusPayload) Clone() StatusPayload {
	s.Event = clonePtr(s.Event)
	s.TS = clonePtr(s.TS)
	s.FW = clonePtr(s.FW)
	s.IP = clonePtr(s.IP)
	s.RSSI = clonePtr(s.RSSI)
	s.UptimeMs = clonePtr(s.UptimeMs)
	s.IntervalMs = clonePtr(s.IntervalMs)
	s.Status = clonePtr(s.Status)
	return s
}
