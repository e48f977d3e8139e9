package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
)

// Client is the facade's session with the broker its bridge listens on.
//
// The session is kept alive in the background: when the broker is down at
// startup or later, publishes fail with ErrBrokerDown and subscriptions are
// held until the session comes back. Callers see a broker outage per
// request instead of a failed start.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger Logger

	mu            sync.RWMutex
	online        bool
	subscriptions map[string]subscription
}

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Paho calls it on its own goroutine;
// a returned error is logged and the message is still acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Connect opens the broker session and waits up to initialConnectWait for
// it. A broker that is not up yet is not an error: the client keeps
// retrying every cfg.Reconnect.InitialDelay seconds and IsConnected reports
// false until it succeeds.
//
// The retained {prefix}/facade/status topic reads "online" while the
// session is up, "offline" with reason graceful_shutdown after Close and
// "offline" with reason unexpected_disconnect (the will) after a crash.
//
// Parameters:
//   - cfg: MQTT configuration
//   - topics: Topic builders for this deployment's prefix
//   - logger: Connection and handler reports; nil discards them
//
// Returns:
//   - *Client: Client, connected or still retrying
//   - error: ErrConnectionFailed if paho gave up on the session
func Connect(cfg config.MQTTConfig, topics Topics, logger Logger) (*Client, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	c := &Client{
		cfg:           cfg,
		topics:        topics,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, topics.FacadeStatus(), cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.setOnline(false)
		c.logger.Warn("broker connection lost, bridge unavailable until it returns", "error", err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("reconnecting to broker", "broker", brokerURL(cfg))
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(initialConnectWait) {
		c.logger.Warn("broker not reachable yet, retrying in the background",
			"broker", brokerURL(cfg),
			"retry_interval_s", cfg.Reconnect.InitialDelay,
		)
		return c, nil
	}
	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs asynchronously; mark the session up now so
	// callers see it as soon as Connect returns.
	c.setOnline(true)
	return c, nil
}

// handleConnect runs on the first connect and on every reconnect.
func (c *Client) handleConnect() {
	c.setOnline(true)

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	n := len(c.subscriptions)
	c.mu.RUnlock()

	c.client.Publish(c.topics.FacadeStatus(), c.QoS(), true, statusPayload(statusOnline, c.cfg.Broker.ClientID, ""))
	c.logger.Info("broker connected", "broker", brokerURL(c.cfg), "subscriptions", n)
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// Close publishes the graceful offline status when the session is up and
// disconnects, stopping any background retries.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		payload := statusPayload(statusOffline, c.cfg.Broker.ClientID, reasonGraceful)
		c.client.Publish(c.topics.FacadeStatus(), c.QoS(), true, payload).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setOnline(false)
	return nil
}

// HealthCheck reports ErrBrokerDown while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrBrokerDown
	}
	return nil
}

// IsConnected reports whether the session is up right now. Paho's own
// IsConnected is also true while it is still retrying, so the open
// connection is checked instead.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.mu.RLock()
	online := c.online
	c.mu.RUnlock()
	return online && c.client.IsConnectionOpen()
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated to 0..2
}

// wrapHandler adds panic recovery and error logging to a MessageHandler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
