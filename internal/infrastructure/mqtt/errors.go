package mqtt

import "errors"

// Sentinel errors for MQTT operations.
// Use errors.Is() to check for these errors.
var (
	// ErrConnectionFailed indicates the initial broker connection could
	// not be established.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected indicates an operation was attempted while
	// disconnected from the broker.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishFailed indicates a publish operation failed or timed out.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed indicates a subscribe operation failed or timed out.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrPayloadTooLarge indicates a publish payload exceeded the maximum size.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrInvalidTopic indicates a malformed or empty topic string.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
