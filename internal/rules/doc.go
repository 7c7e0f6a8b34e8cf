// Package rules contains the rule model, the pure evaluator, the
// consecutive-violation tracker, and the SQLite rule source.
//
// # Evaluation Split
//
// Evaluate is a pure function from (reading, window, rule set) to the
// rules that reading violates. Identical inputs always give identical
// output, so it needs no locks and tests can call it repeatedly.
//
// The stateful half lives in Tracker: per-(device, rule) counters that
// turn raw violations into Conditions once the rule's consecutive
// requirement is met, and into Recoveries when a triggered rule resets.
//
// # Ordering
//
// Rules in a set are evaluated in declared order and every violated
// rule produces output. There is no short-circuit at first match,
// since independent faults can coexist on one device.
//
// # Rule Source
//
// Rule sets live in SQLite, keyed by selector (device ID or type) with
// a "default" fallback set. The service treats the store as read-only
// configuration.
package rules
