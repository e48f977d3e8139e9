// Package broker runs an optional in-process MQTT broker.
//
// The facade talks to its protocol bridge over MQTT. When no external broker
// is available (single-container installs, tests) this package starts one on
// the configured address so the bridge can connect to the facade directly:
//
//	switcher-rest (mqtt client) ─┐
//	                             ├─ embedded broker ─ protocol bridge
//	bridge responder (optional) ─┘
//
// Authentication mirrors mqtt.auth: when a username is configured only that
// user may connect, otherwise the broker allows every client.
package broker
