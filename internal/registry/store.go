package registry

import (
	"context"
	"fmt"
	"time"

	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
)

// Redis hash field names for device records.
const (
	fieldOwner    = "owner"
	fieldState    = "state"
	fieldLastSeen = "last_seen"
	fieldFirmware = "firmware_version"
)

// deviceKeyPrefix namespaces device records in Redis.
const deviceKeyPrefix = "device:"

// Store is the Redis-backed device registry.
//
// Each device is a Redis hash at device:{id}. Reads are safe from any
// goroutine. Mutating methods are individually atomic (single Redis
// command); compound read-modify-write sequences are serialised by the
// callers through the shared KeyedMutex.
type Store struct {
	client *redisinfra.Client
	log    Logger
}

// Logger is the narrow logging interface the registry needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// NewStore creates a device registry backed by the given Redis client.
//
// Parameters:
//   - client: Connected Redis infrastructure client
//   - log: Logger for diagnostics (nil for silent operation)
func NewStore(client *redisinfra.Client, log Logger) *Store {
	if log == nil {
		log = noopLogger{}
	}
	return &Store{client: client, log: log}
}

// deviceKey returns the Redis key for a device record.
func deviceKey(deviceID string) string {
	return deviceKeyPrefix + deviceID
}

// Get retrieves a device record by ID.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//
// Returns:
//   - *Device: The device record
//   - error: ErrDeviceNotFound if no record exists,
//     ErrStoreUnavailable on transient Redis failure
func (s *Store) Get(ctx context.Context, deviceID string) (*Device, error) {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	fields, err := s.client.DB().HGetAll(opCtx, deviceKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrDeviceNotFound
	}

	return deviceFromHash(deviceID, fields)
}

// Put creates or replaces a device record.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - device: Record to store (ID and State must be set)
//
// Returns:
//   - error: ErrInvalidDevice on validation failure,
//     ErrStoreUnavailable on transient Redis failure
func (s *Store) Put(ctx context.Context, device *Device) error {
	if device == nil || device.ID == "" {
		return fmt.Errorf("%w: missing device ID", ErrInvalidDevice)
	}
	if !device.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, device.State)
	}

	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	key := deviceKey(device.ID)
	pipe := s.client.DB().TxPipeline()
	pipe.Del(opCtx, key)
	pipe.HSet(opCtx, key, deviceToHash(device))
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.log.Debug("device record written", "device_id", device.ID, "state", device.State)
	return nil
}

// SetPairingState updates a device's pairing state and owner together.
//
// Owner semantics follow the state: Paired requires an owner, any other
// state clears it. Passing a nil owner with StatePaired is rejected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//   - state: New pairing state
//   - owner: Owning user ID (required for StatePaired, ignored otherwise)
//
// Returns:
//   - error: ErrDeviceNotFound, ErrInvalidState, or ErrStoreUnavailable
func (s *Store) SetPairingState(ctx context.Context, deviceID string, state PairingState, owner *string) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	if state == StatePaired && (owner == nil || *owner == "") {
		return fmt.Errorf("%w: paired state requires an owner", ErrInvalidDevice)
	}

	if err := s.requireExists(ctx, deviceID); err != nil {
		return err
	}

	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	key := deviceKey(deviceID)
	pipe := s.client.DB().TxPipeline()
	pipe.HSet(opCtx, key, fieldState, string(state))
	if state == StatePaired {
		pipe.HSet(opCtx, key, fieldOwner, *owner)
	} else {
		pipe.HDel(opCtx, key, fieldOwner)
	}
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.log.Debug("pairing state updated", "device_id", deviceID, "state", state)
	return nil
}

// TouchLastSeen records the time of the most recent device contact.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//   - t: Contact timestamp
//
// Returns:
//   - error: ErrDeviceNotFound or ErrStoreUnavailable
func (s *Store) TouchLastSeen(ctx context.Context, deviceID string, t time.Time) error {
	if err := s.requireExists(ctx, deviceID); err != nil {
		return err
	}

	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	err := s.client.DB().HSet(opCtx, deviceKey(deviceID),
		fieldLastSeen, t.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// SetFirmwareVersion records the firmware version a device reported in
// its most recent check-in.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier
//   - version: Reported firmware version string
//
// Returns:
//   - error: ErrDeviceNotFound or ErrStoreUnavailable
func (s *Store) SetFirmwareVersion(ctx context.Context, deviceID, version string) error {
	if err := s.requireExists(ctx, deviceID); err != nil {
		return err
	}

	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	err := s.client.DB().HSet(opCtx, deviceKey(deviceID), fieldFirmware, version).Err()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// requireExists returns ErrDeviceNotFound if the device has no record.
func (s *Store) requireExists(ctx context.Context, deviceID string) error {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	n, err := s.client.DB().Exists(opCtx, deviceKey(deviceID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// deviceToHash converts a Device to Redis hash fields.
// Nil optional fields are omitted rather than stored empty.
func deviceToHash(d *Device) map[string]interface{} {
	fields := map[string]interface{}{
		fieldState: string(d.State),
	}
	if d.Owner != nil && *d.Owner != "" {
		fields[fieldOwner] = *d.Owner
	}
	if d.LastSeen != nil {
		fields[fieldLastSeen] = d.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	if d.FirmwareVersion != "" {
		fields[fieldFirmware] = d.FirmwareVersion
	}
	return fields
}

// deviceFromHash reconstructs a Device from Redis hash fields.
func deviceFromHash(deviceID string, fields map[string]string) (*Device, error) {
	state := PairingState(fields[fieldState])
	if !state.Valid() {
		return nil, fmt.Errorf("%w: stored state %q for device %s", ErrInvalidState, fields[fieldState], deviceID)
	}

	d := &Device{
		ID:              deviceID,
		State:           state,
		FirmwareVersion: fields[fieldFirmware],
	}

	if owner, ok := fields[fieldOwner]; ok && owner != "" {
		d.Owner = &owner
	}
	if raw, ok := fields[fieldLastSeen]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt last_seen for device %s: %w", ErrInvalidDevice, deviceID, err)
		}
		d.LastSeen = &t
	}

	return d, nil
}

// HealthCheck verifies the backing store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}
