package mqtt

import "fmt"

// DefaultTopicPrefix is used when Topics is built with an empty prefix.
const DefaultTopicPrefix = "switcher"

// Topics builds the topic hierarchy shared by the facade and its protocol bridge.
//
//	{prefix}/request/{op}          facade -> bridge, one message per request
//	{prefix}/response/{request_id} bridge -> facade
//	{prefix}/event/{device_id}     facade -> anyone, command outcomes
//	{prefix}/facade/status         retained online/offline (LWT)
//	{prefix}/bridge/status         retained, published by the bridge
//
// Using these helpers keeps both sides of the contract in one place:
//
//	topics := mqtt.NewTopics("switcher")
//	topics.Request("status") // "switcher/request/status"
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders rooted at prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Request returns the topic a request for op is published on.
//
// Example: switcher/request/control
func (t Topics) Request(op string) string {
	return fmt.Sprintf("%s/request/%s", t.Prefix, op)
}

// Response returns the topic the answer to requestID arrives on.
//
// Example: switcher/response/6f1c0e9a-...
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", t.Prefix, requestID)
}

// Event returns the topic command outcomes for a device are published on.
//
// Example: switcher/event/a1b2c3
func (t Topics) Event(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", t.Prefix, deviceID)
}

// FacadeStatus returns the retained online/offline topic of this service.
func (t Topics) FacadeStatus() string {
	return t.Prefix + "/facade/status"
}

// BridgeStatus returns the retained online/offline topic of the bridge.
func (t Topics) BridgeStatus() string {
	return t.Prefix + "/bridge/status"
}

// AllRequests matches every request. Subscribed to by the bridge side.
//
// Pattern: switcher/request/+
func (t Topics) AllRequests() string {
	return t.Prefix + "/request/+"
}

// AllResponses matches every response. Subscribed to by the facade.
//
// Pattern: switcher/response/+
func (t Topics) AllResponses() string {
	return t.Prefix + "/response/+"
}

// AllEvents matches every device event.
//
// Pattern: switcher/event/+
func (t Topics) AllEvents() string {
	return t.Prefix + "/event/+"
}

// LastSegment returns the part of topic after the final slash.
// Used to recover the op or request id from a wildcard match.
func LastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
