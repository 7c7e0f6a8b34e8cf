package rules

import (
	"fmt"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/history"
)

// Comparator identifies how a rule judges readings on its channel.
type Comparator string

// Supported comparators.
const (
	// CompGreaterThan fires when value > Threshold.
	CompGreaterThan Comparator = "gt"

	// CompLessThan fires when value < Threshold.
	CompLessThan Comparator = "lt"

	// CompOutOfRange fires when value < RangeMin or value > RangeMax.
	CompOutOfRange Comparator = "out_of_range"

	// CompStale fires when the channel has produced no reading within
	// Window, measured back from the reading under evaluation.
	CompStale Comparator = "stale"
)

// Valid reports whether c is a recognised comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompGreaterThan, CompLessThan, CompOutOfRange, CompStale:
		return true
	}
	return false
}

// Rule is a single threshold or staleness check on one channel.
type Rule struct {
	// ID identifies the rule in conditions, cooldown keys, and alerts.
	ID string

	// Channel is the sensor channel the rule watches.
	Channel string

	Comparator Comparator

	// Threshold applies to gt and lt.
	Threshold float64

	// RangeMin and RangeMax apply to out_of_range.
	RangeMin float64
	RangeMax float64

	// Window applies to stale.
	Window time.Duration

	// Consecutive is how many violating readings in a row are required
	// before a condition is raised. Minimum 1.
	Consecutive int
}

// Validate checks the rule definition for internal consistency.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing rule ID", ErrInvalidRule)
	}
	if r.Channel == "" {
		return fmt.Errorf("%w: rule %s has no channel", ErrInvalidRule, r.ID)
	}
	if !r.Comparator.Valid() {
		return fmt.Errorf("%w: rule %s has unknown comparator %q", ErrInvalidRule, r.ID, r.Comparator)
	}
	if r.Consecutive < 1 {
		return fmt.Errorf("%w: rule %s has consecutive %d", ErrInvalidRule, r.ID, r.Consecutive)
	}
	if r.Comparator == CompOutOfRange && r.RangeMin >= r.RangeMax {
		return fmt.Errorf("%w: rule %s has empty range [%v, %v]", ErrInvalidRule, r.ID, r.RangeMin, r.RangeMax)
	}
	if r.Comparator == CompStale && r.Window <= 0 {
		return fmt.Errorf("%w: rule %s has no stale window", ErrInvalidRule, r.ID)
	}
	return nil
}

// RuleSet is the ordered rule collection applied to one device.
//
// Order is significant: rules are evaluated in declared order and all
// matching rules fire, never just the first.
type RuleSet struct {
	// Selector is the device ID or type the set was loaded for.
	Selector string

	Rules []Rule
}

// Validate checks every rule in the set.
func (s RuleSet) Validate() error {
	for _, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Violation is a single rule violated by the reading under evaluation.
// It carries no consecutive-count judgement; that belongs to Tracker.
type Violation struct {
	Rule Rule

	// Readings that triggered the violation. Empty for stale rules,
	// where the trigger is the absence of readings.
	Readings []history.Reading
}

// Condition is a detected, consecutive-count-qualified rule violation
// eligible for alerting.
type Condition struct {
	// ID is a unique event identifier for audit and queue entries.
	ID string

	RuleID   string
	DeviceID string
	Channel  string

	// Readings that triggered the condition (empty for stale rules).
	Readings []history.Reading

	DetectedAt time.Time
}

// Recovery marks a (device, rule) returning to normal after having
// been in a triggered state. Consumed for logging only; no alert.
type Recovery struct {
	RuleID   string
	DeviceID string
}
