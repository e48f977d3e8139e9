// Package brokertest starts throwaway embedded brokers for tests.
package brokertest

import (
	"net"
	"strconv"
	"testing"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

// Start runs an anonymous broker on a free loopback port and returns an
// MQTT config pointing at it. The broker is closed when the test ends.
func Start(t testing.TB) (*broker.Broker, config.MQTTConfig) {
	t.Helper()
	return StartWithAuth(t, config.MQTTAuthConfig{})
}

// StartWithAuth is Start with broker credentials. The returned config
// carries the same credentials.
func StartWithAuth(t testing.TB, creds config.MQTTAuthConfig) (*broker.Broker, config.MQTTConfig) {
	t.Helper()

	port := FreePort(t)
	b, err := broker.Start(config.EmbeddedBrokerConfig{
		Enabled: true,
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	}, creds, logging.Discard())
	if err != nil {
		t.Fatalf("starting test broker: %v", err)
	}
	t.Cleanup(func() { b.Close() }) //nolint:errcheck // Test cleanup

	return b, config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     port,
			ClientID: "switcher-rest-test",
		},
		Auth: creds,
		QoS:  1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// FreePort returns a TCP port that was free a moment ago.
func FreePort(t testing.TB) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
