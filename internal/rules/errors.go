package rules

import "errors"

// Sentinel errors for rule operations.
// Use errors.Is() to check for these errors.
var (
	// ErrInvalidRule indicates a rule definition that fails validation.
	ErrInvalidRule = errors.New("rules: invalid rule")

	// ErrRuleSetNotFound indicates no rule set exists for the selector
	// and no default set is configured.
	ErrRuleSetNotFound = errors.New("rules: rule set not found")

	// ErrSourceUnavailable indicates the rule configuration store could
	// not be queried.
	ErrSourceUnavailable = errors.New("rules: source unavailable")
)
