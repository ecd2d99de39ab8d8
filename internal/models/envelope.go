package models

import "time"

// Envelope is one decoded inbound broker message. It is created once by the
// decoder and never mutated afterwards.
type Envelope struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
