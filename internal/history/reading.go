package history

import "time"

// Reading is a single telemetry sample from one device channel.
//
// Readings are ephemeral: they live in the rolling window for rule
// evaluation and are forwarded to the time-series sink, but the core
// never persists them itself.
type Reading struct {
	DeviceID   string
	Channel    string
	Value      float64
	RecordedAt time.Time
}
