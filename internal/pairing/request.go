package pairing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

// requestKeyPrefix namespaces pairing requests in Redis.
const requestKeyPrefix = "pairing:"

// requestRetention is how long a request record outlives its logical
// expiry. Within this window a late confirm still gets a precise
// "expired" answer; afterwards Redis garbage-collects the key and the
// confirm reads as not-pending.
const requestRetention = time.Hour

// Request is one live pairing attempt for a device.
//
// Only the SHA-256 of the code is stored. Expiry is judged lazily at
// access time against ExpiresAt; there is no background timer.
type Request struct {
	DeviceID  string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  int
}

// Expired reports whether the request is past its TTL at the given time.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// requestStore persists pairing requests in Redis, one hash per device.
// At most one request exists per device; writes replace.
type requestStore struct {
	client *redisinfra.Client
}

func requestKey(deviceID string) string {
	return requestKeyPrefix + deviceID
}

// save writes the request, replacing any previous one for the device.
func (s *requestStore) save(ctx context.Context, req *Request) error {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	key := requestKey(req.DeviceID)
	pipe := s.client.DB().TxPipeline()
	pipe.Del(opCtx, key)
	pipe.HSet(opCtx, key, map[string]interface{}{
		"code_hash":  req.CodeHash,
		"issued_at":  req.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": req.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"attempts":   req.Attempts,
	})
	pipe.ExpireAt(opCtx, key, req.ExpiresAt.Add(requestRetention))
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("%w: %w", registry.ErrStoreUnavailable, err)
	}
	return nil
}

// get loads the request for a device, or nil when none exists.
func (s *requestStore) get(ctx context.Context, deviceID string) (*Request, error) {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	fields, err := s.client.DB().HGetAll(opCtx, requestKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", registry.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	req := &Request{
		DeviceID: deviceID,
		CodeHash: fields["code_hash"],
	}
	if req.IssuedAt, err = time.Parse(time.RFC3339Nano, fields["issued_at"]); err != nil {
		return nil, fmt.Errorf("corrupt pairing request for %s: %w", deviceID, err)
	}
	if req.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("corrupt pairing request for %s: %w", deviceID, err)
	}
	if raw, ok := fields["attempts"]; ok {
		if req.Attempts, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("corrupt pairing request for %s: %w", deviceID, err)
		}
	}
	return req, nil
}

// incrementAttempts bumps the failure counter and returns the new value.
func (s *requestStore) incrementAttempts(ctx context.Context, deviceID string) (int, error) {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	n, err := s.client.DB().HIncrBy(opCtx, requestKey(deviceID), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", registry.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// delete removes the request for a device.
func (s *requestStore) delete(ctx context.Context, deviceID string) error {
	opCtx, cancel := s.client.OpContext(ctx)
	defer cancel()

	if err := s.client.DB().Del(opCtx, requestKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", registry.ErrStoreUnavailable, err)
	}
	return nil
}
