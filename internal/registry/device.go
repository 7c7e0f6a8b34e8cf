package registry

import "time"

// PairingState represents a device's position in the pairing lifecycle.
type PairingState string

// Pairing lifecycle states.
//
// Transitions:
//
//	Unpaired       -> PendingPairing  (pairing requested)
//	PendingPairing -> Paired          (code confirmed)
//	PendingPairing -> Unpaired        (expiry, lockout, or re-request cancel)
//	Paired         -> Unpaired        (explicit unpair)
const (
	StateUnpaired       PairingState = "unpaired"
	StatePendingPairing PairingState = "pending_pairing"
	StatePaired         PairingState = "paired"
)

// Valid reports whether s is a recognised pairing state.
func (s PairingState) Valid() bool {
	switch s {
	case StateUnpaired, StatePendingPairing, StatePaired:
		return true
	}
	return false
}

// Device is the registry record for a single physical device.
//
// ID is immutable after creation. Owner is set only while Paired.
// LastSeen tracks the most recent telemetry or check-in, regardless of
// whether the reading was accepted.
type Device struct {
	ID              string
	Owner           *string
	State           PairingState
	LastSeen        *time.Time
	FirmwareVersion string
}

// IsPaired reports whether the device may have telemetry evaluated.
func (d *Device) IsPaired() bool {
	return d.State == StatePaired
}
