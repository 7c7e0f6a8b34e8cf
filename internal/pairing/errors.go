package pairing

import "errors"

// Sentinel errors for pairing operations.
// Use errors.Is() to check for these errors.
var (
	// ErrCodeMismatch indicates the submitted code was wrong. The
	// request stays live and the failure counter is incremented.
	ErrCodeMismatch = errors.New("pairing: code mismatch")

	// ErrRequestExpired indicates the pairing request outlived its TTL.
	// The device has been returned to unpaired; a new request is needed.
	ErrRequestExpired = errors.New("pairing: request expired")

	// ErrTooManyAttempts indicates the failure limit was reached. The
	// code is invalidated and the device returned to unpaired.
	ErrTooManyAttempts = errors.New("pairing: too many failed attempts")

	// ErrNotPending indicates a confirm against a device that has no
	// live pairing request.
	ErrNotPending = errors.New("pairing: device not pending pairing")

	// ErrAlreadyPaired indicates a pairing request for a device that is
	// already bound to a user. Unpair first.
	ErrAlreadyPaired = errors.New("pairing: device already paired")
)
