package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/history"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// Logger is the narrow logging interface the router needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RuleSource supplies the rule set for a device.
// Implemented by rules.Source; mocked in tests.
type RuleSource interface {
	GetRuleSet(ctx context.Context, selector string) (rules.RuleSet, error)
}

// AlertDispatcher hands detected conditions to delivery.
// Implemented by notify.Notifier; mocked in tests.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, condition rules.Condition, owner string) error
}

// ReadingSink receives accepted readings for durable history.
// Implemented by the InfluxDB client; optional.
type ReadingSink interface {
	WriteReading(deviceID, channel string, value float64, recordedAt time.Time)
}

// Router is the entry point of the telemetry pipeline.
//
// For each message it parses the reading, gates on the device's
// pairing state, updates last-seen, evaluates the device's rule set
// against the rolling window, and forwards qualifying conditions to
// the notifier. Work for one device is serialised through the keyed
// mutex shared with the pairing coordinator; distinct devices proceed
// in parallel.
type Router struct {
	store    *registry.Store
	locks    *registry.KeyedMutex
	recorder *history.Recorder
	tracker  *rules.Tracker
	source   RuleSource
	notifier AlertDispatcher
	sink     ReadingSink
	log      Logger
}

// NewRouter creates an ingestion router.
//
// Parameters:
//   - store: Device registry
//   - locks: Keyed mutex shared with the pairing coordinator
//   - recorder: Rolling history window and rollup aggregator
//   - tracker: Consecutive-violation counters
//   - source: Rule configuration source
//   - notifier: Alert dispatcher
//   - sink: Durable reading sink (nil to disable history writes)
//   - log: Logger (nil for silent operation)
func NewRouter(store *registry.Store, locks *registry.KeyedMutex, recorder *history.Recorder, tracker *rules.Tracker, source RuleSource, notifier AlertDispatcher, sink ReadingSink, log Logger) *Router {
	if log == nil {
		log = noopLogger{}
	}
	return &Router{
		store:    store,
		locks:    locks,
		recorder: recorder,
		tracker:  tracker,
		source:   source,
		notifier: notifier,
		sink:     sink,
		log:      log,
	}
}

// Handle processes one telemetry message.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device segment from the ingress topic
//   - payload: Raw message payload
//
// Returns:
//   - Result: Accepted, or Rejected with a reason; Retryable() is true
//     only for transient store failures
func (r *Router) Handle(ctx context.Context, deviceID string, payload []byte) Result {
	reading, err := parseReading(deviceID, payload)
	if err != nil {
		r.log.Warn("rejecting malformed telemetry", "device_id", deviceID, "error", err)
		return rejected(ReasonMalformed)
	}

	r.locks.Lock(deviceID)
	defer r.locks.Unlock(deviceID)

	device, err := r.store.Get(ctx, deviceID)
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		r.log.Debug("telemetry from unknown device", "device_id", deviceID)
		return rejected(ReasonUnknownDevice)
	case err != nil:
		r.log.Error("registry lookup failed", "device_id", deviceID, "error", err)
		return rejected(ReasonRegistryUnavailable)
	}

	if !device.IsPaired() {
		r.log.Debug("telemetry from unpaired device",
			"device_id", deviceID,
			"state", device.State,
		)
		return rejected(ReasonNotPaired)
	}

	if err := r.store.TouchLastSeen(ctx, deviceID, reading.RecordedAt); err != nil {
		r.log.Error("updating last-seen failed", "device_id", deviceID, "error", err)
		return rejected(ReasonRegistryUnavailable)
	}

	// Fetch rules before touching the window or the rollup buckets: a
	// transient failure here is a retryable rejection, and the broker's
	// redelivery must not find the reading already counted.
	set, err := r.source.GetRuleSet(ctx, deviceID)
	hasRules := true
	switch {
	case errors.Is(err, rules.ErrRuleSetNotFound):
		hasRules = false
	case err != nil:
		r.log.Error("rule source failed", "device_id", deviceID, "error", err)
		return rejected(ReasonRegistryUnavailable)
	}

	window := r.recorder.Append(reading)

	if !hasRules {
		// No rules configured: the reading is accepted, there is just
		// nothing to evaluate.
		r.recorder.Accumulate(reading)
		r.writeSink(reading)
		return accepted()
	}

	violations := rules.Evaluate(reading, window, set)

	// A reading outside its sanity range still alerts, but the hourly
	// averages cover in-range points only.
	if !violatesRange(violations) {
		r.recorder.Accumulate(reading)
	}
	conditions, recoveries := r.tracker.Observe(deviceID, set, reading, violations)

	for _, rec := range recoveries {
		r.log.Info("rule recovered",
			"device_id", rec.DeviceID,
			"rule_id", rec.RuleID,
		)
	}

	if len(conditions) > 0 {
		// The device may have been unpaired between the entry gate and
		// here by a path that does not share our lock. Re-check before
		// anything leaves the pipeline.
		current, err := r.store.Get(ctx, deviceID)
		if err != nil || !current.IsPaired() {
			r.log.Info("abandoning conditions, device no longer paired", "device_id", deviceID)
			return rejected(ReasonNotPaired)
		}

		owner := ""
		if current.Owner != nil {
			owner = *current.Owner
		}
		for _, condition := range conditions {
			if err := r.notifier.Dispatch(ctx, condition, owner); err != nil {
				// Delivery failure does not reject the reading; the
				// notifier has already parked the alert.
				r.log.Error("alert dispatch failed",
					"device_id", deviceID,
					"rule_id", condition.RuleID,
					"error", err,
				)
			}
		}
	}

	r.writeSink(reading)
	return accepted()
}

// Forget drops all pipeline state for a device. Wired to the pairing
// coordinator's unpair callback.
func (r *Router) Forget(deviceID string) {
	r.tracker.Forget(deviceID)
	r.recorder.Forget(deviceID)
}

// violatesRange reports whether any violation is of an out_of_range
// rule, marking the reading as a sensor glitch rather than a trend.
func violatesRange(violations []rules.Violation) bool {
	for _, v := range violations {
		if v.Rule.Comparator == rules.CompOutOfRange {
			return true
		}
	}
	return false
}

// writeSink forwards an accepted reading to durable history.
func (r *Router) writeSink(reading history.Reading) {
	if r.sink != nil {
		r.sink.WriteReading(reading.DeviceID, reading.Channel, reading.Value, reading.RecordedAt)
	}
}
