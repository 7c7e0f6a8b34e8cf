package registry

import "errors"

// Sentinel errors for registry operations.
// Use errors.Is() to check for these errors.
var (
	// ErrDeviceNotFound indicates the device ID has no registry record.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrStoreUnavailable indicates a transient backing-store failure.
	// Callers must treat this as retryable, never as "device unknown".
	ErrStoreUnavailable = errors.New("registry: store unavailable")

	// ErrInvalidState indicates an unrecognised pairing state value.
	ErrInvalidState = errors.New("registry: invalid pairing state")

	// ErrInvalidDevice indicates a device record that fails validation.
	ErrInvalidDevice = errors.New("registry: invalid device")
)
