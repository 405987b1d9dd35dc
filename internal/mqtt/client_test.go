package mqtt

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/chaz8081/fairyctl/internal/config"
)

func testConfig() config.MQTTConfig {
	return config.Default().MQTT
}

func newTestClient(t *testing.T) (*Client, *mockPaho) {
	t.Helper()
	paho := newMockPaho()
	c := newClient(paho, testConfig(), slog.New(slog.DiscardHandler))
	c.connected = true
	return c, paho
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "lamp"
	cfg.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers = %v, want tcp://localhost:1883", opts.Servers)
	}
	if opts.ClientID != "fairyctl" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "fairyctl")
	}
	if opts.Username != "lamp" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("AutoReconnect and CleanSession should be enabled")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig should be nil without TLS")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.TLS = true
	cfg.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://localhost:8883" {
		t.Errorf("Servers[0] = %v, want ssl://localhost:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{Prefix: "fairyctl"})

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "fairyctl/bridge/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "fairyctl/bridge/status")
	}
	if string(opts.WillPayload) != PayloadOffline || !opts.WillRetained {
		t.Errorf("will = %q retained=%v, want offline retained", opts.WillPayload, opts.WillRetained)
	}
}

func TestPublish(t *testing.T) {
	c, paho := newTestClient(t)

	if err := c.Publish("fairyctl/x/state", []byte(`{"state":"ON"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got := paho.publishedTo("fairyctl/x/state")
	if len(got) != 1 || got[0].payload != `{"state":"ON"}` || !got[0].retained || got[0].qos != 1 {
		t.Errorf("published = %+v", got)
	}
}

func TestPublishValidation(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("t", big, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversized) error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishNotConnected(t *testing.T) {
	c, paho := newTestClient(t)
	paho.connected = false

	if err := c.Publish("t", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishBrokerError(t *testing.T) {
	c, paho := newTestClient(t)
	paho.publishErr = errors.New("not authorized")

	err := c.Publish("t", nil, 0, false)
	if !errors.Is(err, ErrPublishFailed) || !strings.Contains(err.Error(), "not authorized") {
		t.Errorf("Publish() error = %v, want wrapped ErrPublishFailed", err)
	}
}

func TestSubscribeDeliversAndTracks(t *testing.T) {
	c, paho := newTestClient(t)

	var got string
	err := c.Subscribe("fairyctl/+/set", 1, func(topic string, payload []byte) error {
		got = topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("fairyctl/+/set") {
		t.Error("subscription should be tracked")
	}

	paho.deliver("fairyctl/+/set", []byte("ON"))
	if got != "fairyctl/+/set ON" {
		t.Errorf("handler got %q", got)
	}
}

func TestSubscribeFailureNotTracked(t *testing.T) {
	c, paho := newTestClient(t)
	paho.subErr = errors.New("denied")

	err := c.Subscribe("a/b", 0, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if c.HasSubscription("a/b") {
		t.Error("failed subscription should not be tracked")
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Subscribe("a/b", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	c, paho := newTestClient(t)
	if err := c.Subscribe("a/b", 0, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	paho.deliver("a/b", nil) // must not panic
}

func TestHandleConnectRestoresAndAnnounces(t *testing.T) {
	c, paho := newTestClient(t)
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	delete(paho.subscribed, "a/b")

	called := false
	c.SetOnConnect(func() { called = true })
	c.handleDisconnect(errors.New("EOF"))
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}

	c.handleConnect()

	if _, ok := paho.subscribed["a/b"]; !ok {
		t.Error("subscription not restored on reconnect")
	}
	status := paho.publishedTo("fairyctl/bridge/status")
	if len(status) != 1 || status[0].payload != PayloadOnline || !status[0].retained {
		t.Errorf("bridge status = %+v, want retained online", status)
	}
	if !called {
		t.Error("OnConnect callback not invoked")
	}
}

func TestClose(t *testing.T) {
	c, paho := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	status := paho.publishedTo("fairyctl/bridge/status")
	if len(status) != 1 || status[0].payload != PayloadOffline {
		t.Errorf("bridge status = %+v, want offline", status)
	}
	if paho.disconnects != 1 {
		t.Errorf("Disconnect calls = %d, want 1", paho.disconnects)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}
