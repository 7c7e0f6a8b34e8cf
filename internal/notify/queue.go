package notify

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// UndeliveredStream is the Redis Stream holding alerts that exhausted
// their delivery retries. Operator tooling consumes it.
const UndeliveredStream = "alerts:undelivered"

// undeliveredStreamMaxLen caps the stream so an extended provider
// outage cannot grow Redis without bound. Approximate trimming.
const undeliveredStreamMaxLen = 10000

// failureQueue parks undeliverable alerts where an operator can see
// them. Alerts land here only after every retry failed; nothing is
// silently dropped.
type failureQueue struct {
	client *redisinfra.Client
}

// park appends one failed alert to the undelivered stream.
func (q *failureQueue) park(ctx context.Context, condition rules.Condition, owner string, reason string) error {
	opCtx, cancel := q.client.OpContext(ctx)
	defer cancel()

	err := q.client.DB().XAdd(opCtx, &goredis.XAddArgs{
		Stream: UndeliveredStream,
		MaxLen: undeliveredStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"alert_id":    condition.ID,
			"device_id":   condition.DeviceID,
			"rule_id":     condition.RuleID,
			"channel":     condition.Channel,
			"owner":       owner,
			"detected_at": condition.DetectedAt.UTC().Format(time.RFC3339),
			"parked_at":   time.Now().UTC().Format(time.RFC3339),
			"reason":      reason,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("parking undelivered alert: %w", err)
	}
	return nil
}
