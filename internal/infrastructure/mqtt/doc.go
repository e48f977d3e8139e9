// Package mqtt provides the MQTT client the facade uses to reach its
// Switcher protocol bridge.
//
// This package manages:
//   - A broker session that is retried in the background, so the facade
//     starts and answers 502 bridge_unavailable while the broker is down
//   - Subscriptions that are held while offline and renewed on reconnect
//   - Last Will and Testament (LWT) on {prefix}/facade/status
//   - Topic builders for the request/response contract with the bridge
//
// # Architecture
//
// The facade never speaks the Switcher UDP/TCP protocol itself. A bridge
// process does, and the two exchange JSON envelopes through the broker:
//
//	switcher-rest ↔ MQTT broker ↔ Switcher bridge ↔ devices
//
// The broker can be external (Mosquitto) or the embedded one from
// internal/infrastructure/broker.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the same host
//   - Breeze control requests carry the device key; restrict the request
//     topics with broker ACLs
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Switcher.TopicPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllResponses(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        return deliver(mqtt.LastSegment(topic), payload)
//	    })
package mqtt
