// Package ingest is the entry point of the telemetry pipeline.
//
// # Pipeline
//
// The router takes each broker message through a fixed sequence:
// parse, registry gate (unknown and unpaired devices are rejected
// before any evaluation), last-seen update, rolling-window append,
// rule evaluation, consecutive-count tracking, and alert dispatch.
// Rejections carry a reason; only transient store failures are
// retryable, and the broker session's QoS handles redelivery.
//
// # Concurrency
//
// The broker hands each message to its own goroutine, so distinct
// devices are processed fully in parallel. Work for one device is
// serialised through the keyed mutex shared with the pairing
// coordinator, which keeps a confirm and a telemetry burst for the
// same device from interleaving.
//
// # Check-ins
//
// Firmware check-ins on the version ingress record the reported
// release and answer with a time-sync command; devices on an outdated
// release also receive an update notice.
package ingest
