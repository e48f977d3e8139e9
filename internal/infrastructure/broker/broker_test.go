package broker_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker/brokertest"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

func connect(t *testing.T, cfg config.MQTTConfig, clientID string) (pahomqtt.Client, error) {
	t.Helper()

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID).
		SetUsername(cfg.Auth.Username).
		SetPassword(cfg.Auth.Password).
		SetConnectTimeout(2 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(3 * time.Second) {
		return nil, errors.New("connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	t.Cleanup(func() { client.Disconnect(100) })
	return client, nil
}

func TestStart_RequiresAddress(t *testing.T) {
	_, err := broker.Start(config.EmbeddedBrokerConfig{Enabled: true}, config.MQTTAuthConfig{}, logging.Discard())
	if !errors.Is(err, broker.ErrNoAddress) {
		t.Errorf("Start() error = %v, want ErrNoAddress", err)
	}
}

func TestBroker_AnonymousClientsAndInlinePublish(t *testing.T) {
	b, cfg := brokertest.Start(t)

	client, err := connect(t, cfg, "anon")
	if err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	received := make(chan string, 1)
	token := client.Subscribe("switcher/test", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		received <- string(msg.Payload())
	})
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		t.Fatalf("Subscribe() error = %v", token.Error())
	}

	if err := b.Publish("switcher/test", []byte("hello"), false, 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("payload = %q, want hello", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inline publish")
	}
}

func TestBroker_CredentialsEnforced(t *testing.T) {
	_, cfg := brokertest.StartWithAuth(t, config.MQTTAuthConfig{Username: "bridge", Password: "s3cret"})

	if _, err := connect(t, cfg, "authorised"); err != nil {
		t.Fatalf("connect() with credentials error = %v", err)
	}

	cfg.Auth.Password = "wrong"
	if _, err := connect(t, cfg, "intruder"); err == nil {
		t.Error("connect() with wrong password succeeded")
	}
}

func TestBroker_CloseNil(t *testing.T) {
	var b *broker.Broker
	if err := b.Close(); err != nil {
		t.Errorf("Close() on nil broker error = %v", err)
	}
}
