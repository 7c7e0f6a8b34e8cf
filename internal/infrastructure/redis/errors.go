package redis

import "errors"

// Domain-specific errors for Redis operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("redis: connection failed")
)
