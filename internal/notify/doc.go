// Package notify delivers alerts for detected rule conditions.
//
// # Cooldown
//
// Repeated detections of the same (device, rule) pair inside the
// cooldown window produce one alert. The claim is a single Redis
// SET NX EX, so concurrent detections cannot double-send, including
// across multiple service instances sharing the store.
//
// # Delivery
//
// The owner is resolved to a name and address through the identity
// provider's directory, the HTML body is rendered with a personal
// greeting, and the message is posted to the external provider with a
// per-attempt timeout and bounded exponential backoff.
//
// # Failure Queue
//
// An alert that exhausts its retries is appended to the
// alerts:undelivered Redis Stream with full context for an operator.
// Undeliverable never means invisible.
package notify
