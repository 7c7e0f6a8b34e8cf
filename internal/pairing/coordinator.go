package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

// Logger is the narrow logging interface the coordinator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Coordinator drives the device-pairing state machine.
//
// State lives in the registry (device state, owner) and the request
// store (code hash, expiry, failure counter). The coordinator owns
// every transition:
//
//	Unpaired       -> PendingPairing  RequestPairing
//	PendingPairing -> Paired          ConfirmPairing (code match)
//	PendingPairing -> Unpaired        expiry, lockout
//	Paired         -> Unpaired        Unpair
//
// All operations for one device run under the shared keyed mutex, so
// two concurrent confirms cannot both succeed and a confirm cannot
// interleave with a re-request.
type Coordinator struct {
	store    *registry.Store
	requests *requestStore
	locks    *registry.KeyedMutex
	cfg      config.PairingConfig
	log      Logger

	// onUnpair is invoked after a device leaves Paired so pipeline
	// state (violation counters, history windows) can be discarded.
	onUnpair func(deviceID string)

	// now is replaceable for expiry tests.
	now func() time.Time
}

// NewCoordinator creates a pairing coordinator.
//
// Parameters:
//   - store: Device registry
//   - client: Redis client backing the request store
//   - locks: Keyed mutex shared with the ingestion router
//   - cfg: Pairing tunables (TTL, max attempts, code length)
//   - log: Logger for state transitions (nil for silent operation)
func NewCoordinator(store *registry.Store, client *redisinfra.Client, locks *registry.KeyedMutex, cfg config.PairingConfig, log Logger) *Coordinator {
	if log == nil {
		log = noopLogger{}
	}
	return &Coordinator{
		store:    store,
		requests: &requestStore{client: client},
		locks:    locks,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetOnUnpair registers a callback invoked whenever a device leaves the
// Paired state. Used to drop per-device pipeline state.
func (c *Coordinator) SetOnUnpair(callback func(deviceID string)) {
	c.onUnpair = callback
}

// RequestPairing issues a fresh pairing code for a device.
//
// An unknown device is registered on first request (provisioning
// happens through pairing). Re-requesting while PendingPairing replaces
// the previous code, so exactly one code is live per device. A Paired
// device must unpair first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//
// Returns:
//   - string: The raw pairing code (never stored; show it to the user now)
//   - error: ErrAlreadyPaired, or registry/store failures
func (c *Coordinator) RequestPairing(ctx context.Context, deviceID string) (string, error) {
	c.locks.Lock(deviceID)
	defer c.locks.Unlock(deviceID)

	device, err := c.store.Get(ctx, deviceID)
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		device = &registry.Device{ID: deviceID, State: registry.StateUnpaired}
		if err := c.store.Put(ctx, device); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}

	if device.State == registry.StatePaired {
		return "", ErrAlreadyPaired
	}

	code, err := generateCode(c.cfg.CodeLength)
	if err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}

	now := c.now()
	req := &Request{
		DeviceID:  deviceID,
		CodeHash:  hashCode(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(c.cfg.CodeTTL) * time.Minute),
	}
	if err := c.requests.save(ctx, req); err != nil {
		return "", err
	}

	if err := c.store.SetPairingState(ctx, deviceID, registry.StatePendingPairing, nil); err != nil {
		return "", err
	}

	c.log.Info("pairing requested", "device_id", deviceID, "expires_at", req.ExpiresAt)
	return code, nil
}

// ConfirmPairing binds a device to a user if the submitted code is
// valid.
//
// Valid only from PendingPairing with a live request. The code compare
// is constant-time against the stored hash. On mismatch the failure
// counter is incremented; reaching the configured limit invalidates the
// request and returns the device to Unpaired. Expiry is checked lazily
// here, with the same Unpaired outcome.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//   - code: Code the user read off the device
//   - userID: Identity of the confirming user (from the identity token)
//
// Returns:
//   - error: ErrNotPending, ErrAlreadyPaired, ErrRequestExpired,
//     ErrCodeMismatch, ErrTooManyAttempts, or registry/store failures
func (c *Coordinator) ConfirmPairing(ctx context.Context, deviceID, code, userID string) error {
	c.locks.Lock(deviceID)
	defer c.locks.Unlock(deviceID)

	device, err := c.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	switch device.State {
	case registry.StatePaired:
		return ErrAlreadyPaired
	case registry.StatePendingPairing:
		// Confirm continues below.
	default:
		return ErrNotPending
	}

	req, err := c.requests.get(ctx, deviceID)
	if err != nil {
		return err
	}
	if req == nil {
		// Request record lost (retention elapsed or store flushed);
		// the device cannot stay pending without a live code.
		if err := c.abandonPairing(ctx, deviceID); err != nil {
			return err
		}
		return ErrNotPending
	}

	if req.Expired(c.now()) {
		if err := c.abandonPairing(ctx, deviceID); err != nil {
			return err
		}
		c.log.Info("pairing request expired", "device_id", deviceID)
		return ErrRequestExpired
	}

	if !codeMatches(req.CodeHash, code) {
		attempts, err := c.requests.incrementAttempts(ctx, deviceID)
		if err != nil {
			return err
		}
		if attempts >= c.cfg.MaxAttempts {
			if err := c.abandonPairing(ctx, deviceID); err != nil {
				return err
			}
			c.log.Warn("pairing locked out", "device_id", deviceID, "attempts", attempts)
			return ErrTooManyAttempts
		}
		c.log.Warn("pairing code mismatch", "device_id", deviceID, "attempts", attempts)
		return ErrCodeMismatch
	}

	// Code accepted: consume the request, bind the owner.
	if err := c.requests.delete(ctx, deviceID); err != nil {
		return err
	}
	if err := c.store.SetPairingState(ctx, deviceID, registry.StatePaired, &userID); err != nil {
		return err
	}

	c.log.Info("device paired", "device_id", deviceID, "user_id", userID)
	return nil
}

// Unpair releases a device from its owner.
//
// Unpairing a PendingPairing device cancels the open request. Unpairing
// an already Unpaired device is a no-op, so clients can retry safely.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//
// Returns:
//   - error: registry/store failures only
func (c *Coordinator) Unpair(ctx context.Context, deviceID string) error {
	c.locks.Lock(deviceID)
	defer c.locks.Unlock(deviceID)

	device, err := c.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	if device.State == registry.StateUnpaired {
		return nil
	}

	wasPaired := device.State == registry.StatePaired

	if err := c.requests.delete(ctx, deviceID); err != nil {
		return err
	}
	if err := c.store.SetPairingState(ctx, deviceID, registry.StateUnpaired, nil); err != nil {
		return err
	}

	if wasPaired && c.onUnpair != nil {
		c.onUnpair(deviceID)
	}

	c.log.Info("device unpaired", "device_id", deviceID)
	return nil
}

// abandonPairing drops the request and returns the device to Unpaired.
// Caller must hold the device lock.
func (c *Coordinator) abandonPairing(ctx context.Context, deviceID string) error {
	if err := c.requests.delete(ctx, deviceID); err != nil {
		return err
	}
	return c.store.SetPairingState(ctx, deviceID, registry.StateUnpaired, nil)
}
