// Package pairing implements the state machine that binds a device to
// a user account, gated by a time-limited one-time code.
//
// # Lifecycle
//
// A device starts Unpaired. RequestPairing issues a cryptographically
// random code and moves it to PendingPairing; ConfirmPairing with the
// right code moves it to Paired and records the owner. Wrong codes
// increment a failure counter, and hitting the configured limit throws
// the device back to Unpaired with the code invalidated, which defeats
// brute-force guessing. Paired devices return to Unpaired only through
// an explicit Unpair.
//
// # Code Handling
//
// Raw codes are returned to the caller once and never stored; the
// request record keeps a SHA-256 hash and comparisons are constant
// time. Re-requesting pairing replaces the previous code, so exactly
// one code is ever live per device.
//
// # Expiry
//
// Requests expire lazily: the TTL is checked when a confirm arrives,
// not by a background timer. An expired confirm returns the device to
// Unpaired in the same operation.
package pairing
