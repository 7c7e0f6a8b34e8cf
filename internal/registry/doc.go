// Package registry maintains the authoritative record of every known
// device: identity, pairing state, owning user, last contact time, and
// reported firmware version.
//
// # Storage
//
// Records live in the durable key-value store as one Redis hash per
// device (device:{id}). The registry survives restarts; in-memory
// caches elsewhere in the service are rebuilt from it.
//
// # Concurrency
//
// Reads may run from any goroutine. Single-field mutations are atomic
// Redis commands. Compound sequences (read state, decide, write state)
// belong to the pairing coordinator and ingestion router, which
// serialise them per device through the shared KeyedMutex so that a
// pairing confirm and a telemetry burst for the same device cannot
// interleave.
//
// # Pairing Gate
//
// The registry is the single source of truth for whether telemetry is
// accepted: only devices in StatePaired have readings evaluated.
package registry
