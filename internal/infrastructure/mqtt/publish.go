package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize is the maximum allowed publish payload (1 MB).
// Telemetry and command payloads are small JSON documents; anything
// near this limit indicates a bug upstream.
const maxPayloadSize = 1 * 1024 * 1024

// Publish sends a message to the specified topic.
//
// QoS is taken from configuration. The call blocks until the broker
// acknowledges the message or the context/timeout expires.
//
// Parameters:
//   - ctx: Context for cancellation (checked before publishing)
//   - topic: Destination topic (must be non-empty, no wildcards)
//   - payload: Message body (max 1 MB)
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic, ErrPayloadTooLarge, or
//     ErrPublishFailed wrapped with detail
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	default:
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout on topic %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained sends a retained message to the specified topic.
// The broker delivers the last retained message to new subscribers.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	default:
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout on topic %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// validatePublishTopic rejects empty topics and topics containing wildcards.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	for _, ch := range topic {
		if ch == '+' || ch == '#' {
			return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}
