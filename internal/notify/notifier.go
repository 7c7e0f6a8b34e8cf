package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// Logger is the narrow logging interface the notifier needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Auditor records alert outcomes for trend analysis.
// Implemented by the InfluxDB client; optional.
type Auditor interface {
	WriteAlertEvent(deviceID, ruleID, outcome string)
}

// Notifier turns detected conditions into delivered alerts.
//
// Dispatch enforces the per-(device, rule) cooldown, resolves the
// owner to an address, renders the alert, and delivers with bounded
// exponential backoff. Alerts that survive every retry are parked on
// the undelivered stream for an operator; they are never dropped.
type Notifier struct {
	cooldown  *cooldown
	queue     *failureQueue
	provider  EmailSender
	directory DirectoryLookup
	auditor   Auditor
	log       Logger

	maxAttempts int
	backoffBase time.Duration
}

// NewNotifier creates a notifier.
//
// Parameters:
//   - client: Redis client (cooldown records + undelivered stream)
//   - provider: Email delivery client
//   - directory: Owner-to-recipient resolver
//   - auditor: Alert outcome sink (nil to disable auditing)
//   - cfg: Cooldown window, retry count, backoff base
//   - log: Logger (nil for silent operation)
func NewNotifier(client *redisinfra.Client, provider EmailSender, directory DirectoryLookup, auditor Auditor, cfg config.NotifierConfig, log Logger) *Notifier {
	if log == nil {
		log = noopLogger{}
	}
	return &Notifier{
		cooldown:    &cooldown{client: client, window: time.Duration(cfg.Cooldown) * time.Minute},
		queue:       &failureQueue{client: client},
		provider:    provider,
		directory:   directory,
		auditor:     auditor,
		log:         log,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: time.Duration(cfg.BackoffBase) * time.Millisecond,
	}
}

// Dispatch delivers one condition to the device owner.
//
// Duplicate conditions within the cooldown window are suppressed and
// return nil. Concurrent dispatches of the same (device, rule) race on
// an atomic Redis SET NX EX and exactly one sends.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - condition: The detected rule violation
//   - owner: User ID of the device owner
//
// Returns:
//   - error: nil on delivery or suppression; ErrDeliveryFailed after
//     exhausted retries (alert parked); ErrCooldownUnavailable if the
//     cooldown store is down (nothing sent, caller may retry)
func (n *Notifier) Dispatch(ctx context.Context, condition rules.Condition, owner string) error {
	acquired, err := n.cooldown.acquire(ctx, condition.DeviceID, condition.RuleID)
	if err != nil {
		return err
	}
	if !acquired {
		n.log.Debug("alert suppressed by cooldown",
			"device_id", condition.DeviceID,
			"rule_id", condition.RuleID,
		)
		n.audit(condition, "suppressed")
		return nil
	}

	recipient, err := n.resolve(ctx, owner)
	if err != nil {
		return n.fail(ctx, condition, owner, fmt.Sprintf("resolving recipient: %v", err))
	}

	subject, body, err := renderAlert(recipient, condition)
	if err != nil {
		return n.fail(ctx, condition, owner, fmt.Sprintf("rendering alert: %v", err))
	}

	if err := n.deliver(ctx, recipient.Email, subject, body); err != nil {
		return n.fail(ctx, condition, owner, fmt.Sprintf("delivering after %d attempts: %v", n.maxAttempts, err))
	}

	n.log.Info("alert delivered",
		"device_id", condition.DeviceID,
		"rule_id", condition.RuleID,
		"alert_id", condition.ID,
	)
	n.audit(condition, "delivered")
	return nil
}

// resolve looks up the owner's recipient record, retrying transient
// directory failures. A missing destination is permanent and fails
// without retry.
func (n *Notifier) resolve(ctx context.Context, owner string) (Recipient, error) {
	var recipient Recipient
	err := n.withRetry(ctx, func() error {
		var lookupErr error
		recipient, lookupErr = n.directory.Lookup(ctx, owner)
		return lookupErr
	})
	return recipient, err
}

// deliver attempts the send with bounded exponential backoff.
func (n *Notifier) deliver(ctx context.Context, to, subject, body string) error {
	return n.withRetry(ctx, func() error {
		return n.provider.Send(ctx, to, subject, body)
	})
}

// withRetry runs op up to maxAttempts times, doubling the delay after
// each failure. ErrNoDestination is permanent and returns immediately.
func (n *Notifier) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	delay := n.backoffBase

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNoDestination) {
			return lastErr
		}

		n.log.Debug("attempt failed",
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt == n.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("abandoned: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}

// fail parks the alert on the undelivered stream and reports the
// terminal failure. The cooldown stays claimed: retrying the same
// condition immediately would fail the same way, and the parked entry
// already owns the follow-up.
func (n *Notifier) fail(ctx context.Context, condition rules.Condition, owner, reason string) error {
	n.log.Error("alert undeliverable, parking for operator",
		"device_id", condition.DeviceID,
		"rule_id", condition.RuleID,
		"alert_id", condition.ID,
		"reason", reason,
	)

	if err := n.queue.park(ctx, condition, owner, reason); err != nil {
		// Queue write failed too; the log line above is now the only
		// trace, so make the double fault explicit.
		n.log.Error("failed to park undelivered alert", "error", err)
	}

	n.audit(condition, "failed")
	return fmt.Errorf("%w: %s", ErrDeliveryFailed, reason)
}

// audit records an outcome if an auditor is configured.
func (n *Notifier) audit(condition rules.Condition, outcome string) {
	if n.auditor != nil {
		n.auditor.WriteAlertEvent(condition.DeviceID, condition.RuleID, outcome)
	}
}
