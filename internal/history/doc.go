// Package history holds the rolling in-memory telemetry window and the
// hourly rollup aggregator.
//
// The window exists for rule evaluation: stale detection has to ask
// "what has this device sent recently", and threshold rules may need
// the triggering run of readings for the alert body. Windows are
// bounded per device and rebuilt empty on restart; durable history
// belongs to the time-series sink, not this package.
//
// Rollups follow the lazy pattern used throughout the pipeline: the
// first accumulated reading of a new hour flushes the previous hour's
// per-channel average. Appending and accumulating are separate calls,
// so a reading can feed rule evaluation without skewing the averages. No background timer is involved, so an idle device's final
// partial hour is only written by an explicit Flush at shutdown.
package history
