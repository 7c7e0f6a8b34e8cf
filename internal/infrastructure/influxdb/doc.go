// Package influxdb provides the time-series sink for telemetry history.
//
// # Measurements
//
//	telemetry         raw accepted readings (temperature, humidity)
//	telemetry_hourly  hourly per-device averages from the rollup worker
//	alert_events      dispatched/suppressed/failed alert audit trail
//
// # Write Semantics
//
// Writes are non-blocking and batched by the underlying client. A
// telemetry pipeline must never stall on its history sink, so write
// helpers silently drop points while disconnected and async write
// errors surface through the SetOnError callback for logging.
//
// InfluxDB is optional. When disabled in configuration, Connect returns
// ErrDisabled and callers run without a history sink.
package influxdb
