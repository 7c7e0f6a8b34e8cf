package notify

import (
	"context"
	"fmt"
	"time"

	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
)

// cooldownKeyPrefix namespaces cooldown records in Redis.
const cooldownKeyPrefix = "alert:cooldown:"

// cooldown enforces the minimum interval between alerts for the same
// (device, rule) pair.
//
// The check-and-set is a single Redis SET NX EX, so concurrent
// dispatches of the same condition race on one atomic operation and
// exactly one wins.
type cooldown struct {
	client *redisinfra.Client
	window time.Duration
}

func cooldownKey(deviceID, ruleID string) string {
	return cooldownKeyPrefix + deviceID + ":" + ruleID
}

// acquire attempts to claim the send slot for a (device, rule) pair.
//
// Returns:
//   - bool: true if this caller may send; false if within cooldown
//   - error: ErrCooldownUnavailable on store failure
func (c *cooldown) acquire(ctx context.Context, deviceID, ruleID string) (bool, error) {
	opCtx, cancel := c.client.OpContext(ctx)
	defer cancel()

	ok, err := c.client.DB().SetNX(opCtx, cooldownKey(deviceID, ruleID), time.Now().UTC().Format(time.RFC3339), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCooldownUnavailable, err)
	}
	return ok, nil
}
