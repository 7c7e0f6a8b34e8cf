package ingest

import "errors"

// Sentinel errors for ingestion.
// Use errors.Is() to check for these errors.
var (
	// ErrMalformedInput indicates a payload that could not be parsed
	// into a telemetry reading. Such messages never reach evaluation.
	ErrMalformedInput = errors.New("ingest: malformed input")
)
