package rules

import (
	"github.com/nimbus-iot/nimbus-core/internal/history"
)

// Evaluate applies every rule in the set to one reading and returns the
// rules it violates, in declared order.
//
// Evaluate is pure: identical inputs always produce identical output,
// it mutates nothing, and it is safe to call concurrently. Consecutive
// violation counting is deliberately not done here; feed the result to
// a Tracker for that.
//
// Rules on a different channel than the reading are skipped (a
// temperature reading says nothing about a humidity threshold). Stale
// rules are always evaluated, against the window and the reading's own
// timestamp.
//
// Parameters:
//   - reading: The reading under evaluation
//   - window: The device's recent readings, newest last, including reading
//   - set: The device's rule set
//
// Returns:
//   - []Violation: One entry per violated rule, declared order
func Evaluate(reading history.Reading, window []history.Reading, set RuleSet) []Violation {
	var violations []Violation

	for _, rule := range set.Rules {
		if rule.Comparator == CompStale {
			if isStale(rule, reading, window) {
				violations = append(violations, Violation{Rule: rule})
			}
			continue
		}

		if rule.Channel != reading.Channel {
			continue
		}
		if violatesThreshold(rule, reading.Value) {
			violations = append(violations, Violation{
				Rule:     rule,
				Readings: []history.Reading{reading},
			})
		}
	}

	return violations
}

// violatesThreshold applies a value comparator.
func violatesThreshold(rule Rule, value float64) bool {
	switch rule.Comparator {
	case CompGreaterThan:
		return value > rule.Threshold
	case CompLessThan:
		return value < rule.Threshold
	case CompOutOfRange:
		return value < rule.RangeMin || value > rule.RangeMax
	default:
		return false
	}
}

// isStale reports whether the rule's channel has produced no reading
// within the rule window, measured back from the current reading's
// timestamp. The current reading itself counts if it is on the channel.
func isStale(rule Rule, reading history.Reading, window []history.Reading) bool {
	cutoff := reading.RecordedAt.Add(-rule.Window)

	if reading.Channel == rule.Channel && !reading.RecordedAt.Before(cutoff) {
		return false
	}
	for _, past := range window {
		if past.Channel == rule.Channel && past.RecordedAt.After(cutoff) {
			return false
		}
	}
	return true
}
