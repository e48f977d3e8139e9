package broker

import (
	"bytes"
	"errors"
	"fmt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

const listenerID = "tcp"

// ErrNoAddress is returned when the broker is enabled without a listen address.
var ErrNoAddress = errors.New("broker: listen address is required")

// Broker is a running embedded MQTT broker.
type Broker struct {
	server  *mochi.Server
	address string
	logger  *logging.Logger
}

// Start creates the broker, installs auth and session logging hooks and
// begins accepting connections on cfg.Address.
//
// Parameters:
//   - cfg: Embedded broker settings (listen address)
//   - creds: Client credentials; an empty username allows anonymous clients
//   - logger: Logger for session events
//
// Returns:
//   - *Broker: Running broker; call Close on shutdown
//   - error: If a hook or the listener cannot be set up
func Start(cfg config.EmbeddedBrokerConfig, creds config.MQTTAuthConfig, logger *logging.Logger) (*Broker, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "broker")

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger.Logger,
	})

	if err := addAuthHook(server, creds); err != nil {
		return nil, fmt.Errorf("adding auth hook: %w", err)
	}
	if err := server.AddHook(&sessionLogHook{logger: logger}, nil); err != nil {
		return nil, fmt.Errorf("adding session hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}

	if err := server.Serve(); err != nil {
		server.Close() //nolint:errcheck // the serve error is the one reported
		return nil, fmt.Errorf("starting broker: %w", err)
	}

	logger.Info("embedded mqtt broker started", "address", cfg.Address)

	return &Broker{server: server, address: cfg.Address, logger: logger}, nil
}

// addAuthHook allows everyone, or only the configured user when one is set.
func addAuthHook(server *mochi.Server, creds config.MQTTAuthConfig) error {
	if creds.Username == "" {
		return server.AddHook(new(auth.AllowHook), nil)
	}

	return server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(creds.Username), Password: auth.RString(creds.Password), Allow: true},
			},
		},
	})
}

// Address returns the configured listen address.
func (b *Broker) Address() string {
	return b.address
}

// Publish injects a message from the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Close stops the listener and disconnects every client.
func (b *Broker) Close() error {
	if b == nil || b.server == nil {
		return nil
	}
	if err := b.server.Close(); err != nil {
		return fmt.Errorf("closing broker: %w", err)
	}
	b.logger.Info("embedded mqtt broker stopped")
	return nil
}

// sessionLogHook logs clients joining and leaving.
type sessionLogHook struct {
	mochi.HookBase
	logger *logging.Logger
}

// ID implements mochi.Hook.
func (h *sessionLogHook) ID() string {
	return "session-log"
}

// Provides implements mochi.Hook.
func (h *sessionLogHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{b})
}

// OnSessionEstablished implements mochi.Hook.
func (h *sessionLogHook) OnSessionEstablished(cl *mochi.Client, _ packets.Packet) {
	h.logger.Debug("mqtt client connected", "client_id", cl.ID, "remote", cl.Net.Remote)
}

// OnDisconnect implements mochi.Hook.
func (h *sessionLogHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	h.logger.Debug("mqtt client disconnected", "client_id", cl.ID, "error", err, "expire", expire)
}
