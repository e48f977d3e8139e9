package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker/brokertest"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

var testTopics = NewTopics("switcher-test")

// connectTest starts a private broker and connects one client to it.
func connectTest(t *testing.T) (*Client, config.MQTTConfig) {
	t.Helper()

	_, cfg := brokertest.Start(t)
	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client, cfg
}

// connectAs connects an extra client with its own id to the broker in cfg.
func connectAs(t *testing.T, cfg config.MQTTConfig, clientID string) *Client {
	t.Helper()

	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client, _ := connectTest(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if client.QoS() != 1 {
		t.Errorf("QoS() = %d, want 1", client.QoS())
	}
}

func TestConnect_BrokerDownThenUp(t *testing.T) {
	port := brokertest.FreePort(t)
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     port,
			ClientID: "switcher-test-early",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     1,
		},
	}

	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v, want a retrying client", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup

	if client.IsConnected() {
		t.Fatal("IsConnected() = true with no broker")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrBrokerDown) {
		t.Errorf("HealthCheck() error = %v, want ErrBrokerDown", err)
	}
	if err := client.Publish("switcher-test/x", []byte("x"), 1, false); !errors.Is(err, ErrBrokerDown) {
		t.Errorf("Publish() error = %v, want ErrBrokerDown", err)
	}

	received := make(chan string, 1)
	err = client.Subscribe(testTopics.AllResponses(), 1, func(topic string, _ []byte) error {
		received <- LastSegment(topic)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() while offline error = %v", err)
	}

	b, err := broker.Start(config.EmbeddedBrokerConfig{
		Enabled: true,
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	}, config.MQTTAuthConfig{}, logging.Discard())
	if err != nil {
		t.Fatalf("broker.Start() error = %v", err)
	}
	t.Cleanup(func() { b.Close() }) //nolint:errcheck // Test cleanup

	deadline := time.Now().Add(10 * time.Second)
	for !client.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if !client.IsConnected() {
		t.Fatal("client did not connect once the broker came up")
	}

	// The held subscription is renewed by the connect handler
	pub := connectAs(t, cfg, "switcher-test-late-pub")
	deadline = time.Now().Add(5 * time.Second)
	for {
		if err := pub.Publish(testTopics.Response("req-late"), []byte("{}"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case id := <-received:
			if id != "req-late" {
				t.Errorf("received %q, want req-late", id)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("held subscription was not renewed after connect")
		}
	}
}

func TestClose(t *testing.T) {
	_, cfg := brokertest.Start(t)

	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client, _ := connectTest(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	_, cfg := brokertest.Start(t)

	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrBrokerDown) {
		t.Errorf("HealthCheck() error = %v, want ErrBrokerDown", err)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client, _ := connectTest(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "ok", topic: "switcher-test/x", payload: []byte("{}"), qos: 1},
		{name: "nil payload", topic: "switcher-test/x", qos: 0},
		{name: "empty topic", topic: "", payload: []byte("x"), qos: 1, wantErr: ErrInvalidTopic},
		{name: "qos 3", topic: "switcher-test/x", payload: []byte("x"), qos: 3, wantErr: ErrInvalidQoS},
		{name: "too large", topic: "switcher-test/x", payload: make([]byte, maxPayloadSize+1), qos: 1, wantErr: ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Publish() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	_, cfg := brokertest.Start(t)

	client, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.Publish("switcher-test/x", []byte("x"), 1, false); !errors.Is(err, ErrBrokerDown) {
		t.Errorf("Publish() error = %v, want ErrBrokerDown", err)
	}
}

func TestPublishJSONRoundtrip(t *testing.T) {
	sub, cfg := connectTest(t)
	pub := connectAs(t, cfg, "switcher-test-pub")

	type envelope struct {
		ID string `json:"id"`
	}
	received := make(chan envelope, 1)
	err := sub.Subscribe(testTopics.Request("status"), 1, func(_ string, payload []byte) error {
		var e envelope
		if err := json.Unmarshal(payload, &e); err != nil {
			return err
		}
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := pub.PublishJSON(testTopics.Request("status"), envelope{ID: "req-1"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got.ID != "req-1" {
			t.Errorf("received id = %q, want req-1", got.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := pub.PublishJSON("switcher-test/x", func() {}); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(func) error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeValidation(t *testing.T) {
	client, _ := connectTest(t)
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := client.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}
	if n := subscriptionCount(client); n != 0 {
		t.Errorf("subscriptions = %d after failures, want 0", n)
	}
}

func TestSubscribeTrackingAndUnsubscribe(t *testing.T) {
	client, _ := connectTest(t)
	handler := func(string, []byte) error { return nil }

	topics := []string{testTopics.AllResponses(), testTopics.AllEvents(), testTopics.BridgeStatus()}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if n := subscriptionCount(client); n != len(topics) {
		t.Errorf("subscriptions = %d, want %d", n, len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if n := subscriptionCount(client); n != len(topics)-1 {
		t.Errorf("subscriptions = %d after unsubscribe, want %d", n, len(topics)-1)
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
}

func TestWildcardResponses(t *testing.T) {
	sub, cfg := connectTest(t)
	pub := connectAs(t, cfg, "switcher-test-wild-pub")

	var mu sync.Mutex
	ids := make(map[string]bool)
	err := sub.Subscribe(testTopics.AllResponses(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		ids[LastSegment(topic)] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	want := []string{"req-a", "req-b", "req-c"}
	for _, id := range want {
		if err := pub.Publish(testTopics.Response(id), []byte(`{}`), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(ids)
		mu.Unlock()
		if n == len(want) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range want {
		if !ids[id] {
			t.Errorf("did not receive response %s", id)
		}
	}
}

func TestHandlerErrorsAndPanicsAreLogged(t *testing.T) {
	_, cfg := brokertest.Start(t)
	logger := &mockLogger{}
	sub, err := Connect(cfg, testTopics, logger)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	pub := connectAs(t, cfg, "switcher-test-handler-pub")

	done := make(chan struct{}, 2)
	if err := sub.Subscribe("switcher-test/err", 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		return errors.New("handler error")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := sub.Subscribe("switcher-test/panic", 1, func(string, []byte) error {
		defer func() { done <- struct{}{} }()
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = pub.Publish("switcher-test/err", []byte("x"), 1, false)
	_ = pub.Publish("switcher-test/panic", []byte("x"), 1, false)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler was not called")
		}
	}

	// The deferred send runs before wrapHandler logs; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logger.count() == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("logged warns=%v errors=%v, want one of each", logger.warns, logger.errors)
	}
}

// =============================================================================
// Status Topic Tests
// =============================================================================

func TestFacadeStatusLifecycle(t *testing.T) {
	watcher, cfg := connectTest(t)

	statuses := make(chan StatusMessage, 4)
	err := watcher.Subscribe(testTopics.FacadeStatus(), 1, func(_ string, payload []byte) error {
		var msg StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		statuses <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cfg.Broker.ClientID = "switcher-test-facade"
	facade, err := Connect(cfg, testTopics, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitStatus := func(want string) StatusMessage {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case msg := <-statuses:
				if msg.ClientID == "switcher-test-facade" && msg.Status == want {
					return msg
				}
			case <-timeout:
				t.Fatalf("timeout waiting for %s status", want)
			}
		}
	}

	waitStatus(statusOnline)
	facade.Close()
	msg := waitStatus(statusOffline)
	if msg.Reason != reasonGraceful {
		t.Errorf("offline reason = %q, want %q", msg.Reason, reasonGraceful)
	}
}

func TestStatusPayload(t *testing.T) {
	var msg StatusMessage
	if err := json.Unmarshal(statusPayload(statusOffline, "c1", reasonCrash), &msg); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if msg.Status != "offline" || msg.ClientID != "c1" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("statusPayload() = %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339", msg.Timestamp)
	}

	online := string(statusPayload(statusOnline, "c1", ""))
	if strings.Contains(online, "reason") {
		t.Errorf("online payload carries a reason: %s", online)
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("home/switcher")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Request", topics.Request("control"), "home/switcher/request/control"},
		{"Response", topics.Response("abc"), "home/switcher/response/abc"},
		{"Event", topics.Event("a1b2c3"), "home/switcher/event/a1b2c3"},
		{"FacadeStatus", topics.FacadeStatus(), "home/switcher/facade/status"},
		{"BridgeStatus", topics.BridgeStatus(), "home/switcher/bridge/status"},
		{"AllRequests", topics.AllRequests(), "home/switcher/request/+"},
		{"AllResponses", topics.AllResponses(), "home/switcher/response/+"},
		{"AllEvents", topics.AllEvents(), "home/switcher/event/+"},
		{"DefaultPrefix", NewTopics("").Request("status"), "switcher/request/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestLastSegment(t *testing.T) {
	tests := map[string]string{
		"switcher/response/abc": "abc",
		"switcher/request/":     "",
		"plain":                 "plain",
	}
	for in, want := range tests {
		if got := LastSegment(in); got != want {
			t.Errorf("LastSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

// subscriptionCount returns how many subscriptions the client holds.
func subscriptionCount(c *Client) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// mockLogger implements Logger for testing. Info is discarded.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Info(string, ...any) {}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors) + len(l.warns)
}
