package mocks

import (
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockMQTTClient mocks the slice of the paho client the transport uses.
// Subscribe also captures the handler so tests can push deliveries through it.
type MockMQTTClient struct {
	mock.Mock

	mu      sync.Mutex
	handler mqtt.MessageHandler
}

// ExpectSession accepts any number of successful connects and subscriptions
// to topic, plus the forced disconnect on close.
func (m *MockMQTTClient) ExpectSession(topic string, qos byte) {
	m.On("Connect").Return(NewDoneToken(nil))
	m.On("Subscribe", topic, qos, mock.Anything).Return(NewDoneToken(nil))
	m.On("Disconnect", uint(0)).Return()
}

// Deliver hands a message to the last subscribed handler. It reports false
// when nothing has subscribed yet.
func (m *MockMQTTClient) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(nil, NewMockMessage(topic, payload))
	return true
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	m.handler = callback
	m.mu.Unlock()

	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}
