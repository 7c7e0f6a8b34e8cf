package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages matching the topic filter.
//
// The subscription is tracked and automatically restored on reconnect.
// Subscribing to the same filter twice replaces the previous handler.
//
// Parameters:
//   - topic: Topic filter (wildcards + and # allowed)
//   - handler: Callback invoked for each matching message
//
// Returns:
//   - error: ErrNotConnected or ErrSubscribeFailed wrapped with detail
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	qos := byte(c.cfg.QoS)
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout on filter %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	// Track for re-subscription on reconnect
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes a subscription and stops tracking it.
func (c *Client) Unsubscribe(topic string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: unsubscribe timeout on filter %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return nil
}
