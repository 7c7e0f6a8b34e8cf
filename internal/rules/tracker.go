package rules

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nimbus-iot/nimbus-core/internal/history"
)

// Tracker holds the rolling consecutive-violation counters that the
// pure Evaluate function deliberately leaves out.
//
// A counter exists per (device, rule). A violating reading increments
// it; once it reaches the rule's Consecutive requirement a Condition is
// raised. Any applicable non-violating reading resets the counter to
// zero, and if the rule had previously triggered, reports a Recovery.
// Readings on unrelated channels leave counters untouched.
//
// Tracker is safe for concurrent use, though the router already
// serialises per device, so contention is across devices only.
type Tracker struct {
	mu sync.Mutex

	// counters maps device|rule to the current consecutive run length.
	counters map[counterKey]int

	// triggered marks (device, rule) pairs whose counter has reached
	// the threshold since the last reset. Drives recovery reporting.
	triggered map[counterKey]bool
}

type counterKey struct {
	deviceID string
	ruleID   string
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counters:  make(map[counterKey]int),
		triggered: make(map[counterKey]bool),
	}
}

// Observe folds one evaluation result into the counters and returns the
// conditions whose consecutive requirement is now met, plus any
// recoveries (previously triggered rules that just reset).
//
// Parameters:
//   - deviceID: Device the reading came from
//   - set: The rule set that was evaluated
//   - reading: The reading that was evaluated
//   - violations: Output of Evaluate for this reading
//
// Returns:
//   - []Condition: Conditions to hand to the notifier, declared order
//   - []Recovery: Rules that returned to normal with this reading
func (t *Tracker) Observe(deviceID string, set RuleSet, reading history.Reading, violations []Violation) ([]Condition, []Recovery) {
	violated := make(map[string]Violation, len(violations))
	for _, v := range violations {
		violated[v.Rule.ID] = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var conditions []Condition
	var recoveries []Recovery

	for _, rule := range set.Rules {
		key := counterKey{deviceID: deviceID, ruleID: rule.ID}

		if v, ok := violated[rule.ID]; ok {
			t.counters[key]++
			if t.counters[key] >= rule.Consecutive {
				t.triggered[key] = true
				conditions = append(conditions, Condition{
					ID:         uuid.NewString(),
					RuleID:     rule.ID,
					DeviceID:   deviceID,
					Channel:    rule.Channel,
					Readings:   v.Readings,
					DetectedAt: reading.RecordedAt,
				})
			}
			continue
		}

		// Non-violating: only applicable readings reset the counter.
		// A humidity reading must not clear a temperature run, but a
		// stale rule is cleared by the arrival that ended the silence.
		if rule.Comparator != CompStale && rule.Channel != reading.Channel {
			continue
		}

		if t.counters[key] > 0 {
			t.counters[key] = 0
		}
		if t.triggered[key] {
			delete(t.triggered, key)
			recoveries = append(recoveries, Recovery{RuleID: rule.ID, DeviceID: deviceID})
		}
	}

	return conditions, recoveries
}

// Forget drops all counters for a device. Called on unpair so a
// re-paired device starts clean.
func (t *Tracker) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.counters {
		if key.deviceID == deviceID {
			delete(t.counters, key)
		}
	}
	for key := range t.triggered {
		if key.deviceID == deviceID {
			delete(t.triggered, key)
		}
	}
}

// count returns the current counter for tests.
func (t *Tracker) count(deviceID, ruleID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[counterKey{deviceID: deviceID, ruleID: ruleID}]
}
