package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/database"
)

// DefaultSelector is the rule-set selector used when a device has no
// set of its own.
const DefaultSelector = "default"

// Source loads rule sets from the SQLite configuration store.
//
// The store is read-only at runtime: operator tooling writes rules,
// the service only queries them. Rows are keyed by a selector (device
// ID or device type) and ordered by position within the set.
type Source struct {
	db *database.DB
}

// NewSource creates a rule source over the given database.
func NewSource(db *database.DB) *Source {
	return &Source{db: db}
}

// GetRuleSet returns the rule set for the given selector, falling back
// to the default set when the selector has no rules of its own.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - selector: Device ID or device type
//
// Returns:
//   - RuleSet: Ordered, validated rule set
//   - error: ErrRuleSetNotFound if neither selector nor default has
//     rules, ErrSourceUnavailable on query failure
func (s *Source) GetRuleSet(ctx context.Context, selector string) (RuleSet, error) {
	set, err := s.query(ctx, selector)
	if err != nil {
		return RuleSet{}, err
	}
	if len(set.Rules) == 0 && selector != DefaultSelector {
		set, err = s.query(ctx, DefaultSelector)
		if err != nil {
			return RuleSet{}, err
		}
		set.Selector = selector
	}
	if len(set.Rules) == 0 {
		return RuleSet{}, fmt.Errorf("%w: selector %q", ErrRuleSetNotFound, selector)
	}
	if err := set.Validate(); err != nil {
		return RuleSet{}, err
	}
	return set, nil
}

// query loads the rows for one selector in declared order.
func (s *Source) query(ctx context.Context, selector string) (RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, channel, comparator, threshold, range_min, range_max,
		       window_seconds, consecutive
		FROM rules
		WHERE selector = ?
		ORDER BY position
	`, selector)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	set := RuleSet{Selector: selector}
	for rows.Next() {
		var (
			rule          Rule
			comparator    string
			threshold     sql.NullFloat64
			rangeMin      sql.NullFloat64
			rangeMax      sql.NullFloat64
			windowSeconds sql.NullInt64
		)
		if err := rows.Scan(
			&rule.ID, &rule.Channel, &comparator,
			&threshold, &rangeMin, &rangeMax,
			&windowSeconds, &rule.Consecutive,
		); err != nil {
			return RuleSet{}, fmt.Errorf("%w: scanning rule row: %w", ErrSourceUnavailable, err)
		}

		rule.Comparator = Comparator(comparator)
		if threshold.Valid {
			rule.Threshold = threshold.Float64
		}
		if rangeMin.Valid {
			rule.RangeMin = rangeMin.Float64
		}
		if rangeMax.Valid {
			rule.RangeMax = rangeMax.Float64
		}
		if windowSeconds.Valid {
			rule.Window = time.Duration(windowSeconds.Int64) * time.Second
		}

		set.Rules = append(set.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("%w: iterating rule rows: %w", ErrSourceUnavailable, err)
	}

	return set, nil
}
