// Package bridge implements switcher.Adapter as an RPC over MQTT.
//
// The Switcher LAN protocol (UDP discovery broadcasts, encrypted TCP
// sessions) is spoken by a separate bridge process. The facade publishes one
// JSON request per device call and waits for the matching response:
//
//	facade                                   bridge
//	  │ {prefix}/request/{op}  {"id":..}  ──▶  │
//	  │ ◀── {prefix}/response/{id} {"ok":..}   │
//
// Ops are "discover", "locate", "send" and "breeze". A response that does not
// arrive within the request timeout becomes a switcher.KindTimeout error; a
// disconnected broker becomes switcher.KindUnavailable.
//
// Responder is the bridge side of the same contract, serving requests from
// any switcher.Adapter. It backs serve --simulate-bridge and the tests.
package bridge
