package mqtt

import "errors"

var (
	// ErrBrokerDown is returned while the broker session is down. The bridge
	// client maps it to a bridge_unavailable response.
	ErrBrokerDown = errors.New("mqtt: broker session down")

	// ErrConnectionFailed is returned when paho abandons the session.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a rejected or unacknowledged publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or unacknowledged (un)subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	ErrInvalidQoS   = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
