package mqtt

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

func NewMockToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)
	return &MockToken{err: err, done: done}
}

func (t *MockToken) Wait() bool                       { return true }
func (t *MockToken) WaitTimeout(d time.Duration) bool { return true }
func (t *MockToken) Error() error                     { return t.err }
func (t *MockToken) Done() <-chan struct{}            { return t.done }

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

// MockClient implements mqtt.Client and records what it is asked to do.
type MockClient struct {
	connected atomic.Bool

	publishErr   error
	subscribeErr error

	mu           sync.Mutex
	published    []publishCall
	subscribed   map[string]byte
	unsubscribed []string
	handler      mqtt.MessageHandler
	disconnects  int
}

func NewMockClient() *MockClient {
	c := &MockClient{subscribed: make(map[string]byte)}
	c.connected.Store(true)
	return c
}

func (m *MockClient) Connect() mqtt.Token { return NewMockToken(nil) }

func (m *MockClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	m.connected.Store(false)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if m.publishErr != nil {
		return NewMockToken(m.publishErr)
	}
	m.mu.Lock()
	m.published = append(m.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	m.mu.Unlock()
	return NewMockToken(nil)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	if m.subscribeErr != nil {
		return NewMockToken(m.subscribeErr)
	}
	m.mu.Lock()
	m.subscribed[topic] = qos
	m.handler = callback
	m.mu.Unlock()
	return NewMockToken(nil)
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}

func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	m.mu.Unlock()
	return NewMockToken(nil)
}

func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *MockClient) IsConnected() bool                                   { return m.connected.Load() }
func (m *MockClient) IsConnectionOpen() bool                              { return m.connected.Load() }
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader             { return mqtt.ClientOptionsReader{} }

// deliver hands payload to the registered intake handler.
func (m *MockClient) deliver(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	handler(m, &MockMessage{topic: topic, payload: payload})
}

func (m *MockClient) publishedCalls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	topic   string
	payload []byte
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 1 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 1 }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}
