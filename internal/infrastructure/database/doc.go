// Package database provides the SQLite connection and migration
// machinery for the rule configuration store.
//
// # Role
//
// The rule store is configuration, not runtime state. Operator tooling
// writes rules; the service only reads them. The connection is tuned
// for that pattern (single writer, WAL mode for concurrent reads).
//
// # Migrations
//
// Schema migrations are embedded in the binary and applied on startup.
// Filenames follow YYYYMMDD_HHMMSS_description.sql and are applied in
// version order, each in its own transaction. There are no down
// migrations; the schema only moves forward.
package database
