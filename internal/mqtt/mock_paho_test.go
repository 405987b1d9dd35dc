package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type mockToken struct {
	err     error
	timeout bool
}

func (t *mockToken) Wait() bool                     { return !t.timeout }
func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *mockToken) Error() error                   { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type mockPaho struct {
	mu          sync.Mutex
	connected   bool
	published   []published
	subscribed  map[string]pahomqtt.MessageHandler
	publishErr  error
	subErr      error
	disconnects int
}

func newMockPaho() *mockPaho {
	return &mockPaho{connected: true, subscribed: make(map[string]pahomqtt.MessageHandler)}
}

func (m *mockPaho) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPaho) IsConnectionOpen() bool  { return m.IsConnected() }
func (m *mockPaho) Connect() pahomqtt.Token { return &mockToken{} }

func (m *mockPaho) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.disconnects++
	m.mu.Unlock()
}

func (m *mockPaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	m.published = append(m.published, published{topic, qos, retained, body})
	return &mockToken{}
}

func (m *mockPaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return &mockToken{err: m.subErr}
	}
	m.subscribed[topic] = cb
	return &mockToken{}
}

func (m *mockPaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &mockToken{}
}

func (m *mockPaho) Unsubscribe(...string) pahomqtt.Token { return &mockToken{} }

func (m *mockPaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (m *mockPaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

func (m *mockPaho) deliver(topic string, payload []byte) {
	m.mu.Lock()
	cb := m.subscribed[topic]
	m.mu.Unlock()
	if cb != nil {
		cb(m, &mockMessage{topic: topic, payload: payload})
	}
}

func (m *mockPaho) publishedTo(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

var _ pahomqtt.Client = (*mockPaho)(nil)
