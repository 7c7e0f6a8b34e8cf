package notify

import "errors"

// Sentinel errors for alert dispatch.
// Use errors.Is() to check for these errors.
var (
	// ErrDeliveryFailed indicates all delivery attempts were exhausted.
	// The alert has been parked on the undelivered queue, not dropped.
	ErrDeliveryFailed = errors.New("notify: delivery failed")

	// ErrNoDestination indicates the device owner could not be resolved
	// to a deliverable address.
	ErrNoDestination = errors.New("notify: no destination for owner")

	// ErrCooldownUnavailable indicates the cooldown store could not be
	// reached. The alert is neither sent nor suppressed; callers may
	// retry the dispatch.
	ErrCooldownUnavailable = errors.New("notify: cooldown store unavailable")
)
