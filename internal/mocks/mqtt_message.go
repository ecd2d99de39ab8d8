package mocks

import "sync/atomic"

var messageIDs atomic.Uint32

// MockMessage is a broker delivery as seen by a subscription handler.
// Every message gets its own id; Ack is recorded.
type MockMessage struct {
	topic    string
	payload  []byte
	id       uint16
	retained bool
	acked    atomic.Bool
}

// NewMockMessage creates a QoS 1 delivery on topic.
func NewMockMessage(topic string, payload []byte) *MockMessage {
	return &MockMessage{
		topic:   topic,
		payload: payload,
		id:      uint16(messageIDs.Add(1)),
	}
}

// NewRetainedMessage creates a delivery replayed from the broker's retained store.
func NewRetainedMessage(topic string, payload []byte) *MockMessage {
	msg := NewMockMessage(topic, payload)
	msg.retained = true
	return msg
}

func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) MessageID() uint16 { return m.id }
func (m *MockMessage) Retained() bool    { return m.retained }
func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 1 }
func (m *MockMessage) Ack()              { m.acked.Store(true) }

// Acked reports whether the handler side acknowledged the delivery.
func (m *MockMessage) Acked() bool { return m.acked.Load() }
