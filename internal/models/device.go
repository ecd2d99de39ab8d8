package models

import "time"

// DeviceRecord is the per-device state held by the fleet engine.
// DisplayName and CustomerID are only filled in by the projection.
type DeviceRecord struct {
	ID              string           `json:"id"`
	IsOnline        bool             `json:"is_online"`
	LastSeen        time.Time        `json:"last_seen"`
	LatestTelemetry TelemetryPayload `json:"latest_telemetry"`
	StatusInfo      StatusPayload    `json:"status_info"`
	MessageHistory  []Envelope       `json:"message_history"` // most recent first
	DisplayName     string           `json:"display_name,omitempty"`
	CustomerID      string           `json:"customer_id,omitempty"`
}

// FleetSnapshot is a point-in-time copy of fleet state keyed by device id.
type FleetSnapshot map[string]DeviceRecord

// DeviceView is a record augmented for consumers.
type DeviceView struct {
	DeviceRecord
	FirmwareOutdated bool `json:"firmware_outdated,omitempty"`
}

// Firmware returns the most specific firmware version known for the device,
// preferring the status frame.
func (d DeviceRecord) Firmware() string {
	if d.StatusInfo.FW != nil && *d.StatusInfo.FW != "" {
		return *d.StatusInfo.FW
	}
	if d.LatestTelemetry.FW != nil {
		return *d.LatestTelemetry.FW
	}
	return ""
}

// Label is the display name, falling back to the device id.
func (d DeviceRecord) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}
