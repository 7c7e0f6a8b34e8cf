package history

import (
	"sync"
	"time"
)

// defaultWindowSize is the per-device ring capacity when none is given.
const defaultWindowSize = 64

// RollupSink receives completed hourly aggregates.
// Implemented by the InfluxDB infrastructure client.
type RollupSink interface {
	WriteRollup(deviceID, channel string, avg float64, samples int, bucketEnd time.Time)
}

// Recorder keeps a bounded rolling window of recent readings per device
// and builds hourly per-channel averages from the readings handed to
// Accumulate.
//
// The window feeds rule evaluation (stale detection needs to see what
// did NOT arrive recently); every reading is appended to it. Averages
// cover only the readings the caller chooses to Accumulate, which is
// how out-of-range sensor glitches stay out of the charts. Aggregates
// are flushed to the sink when the first accumulated reading of a new
// hour arrives, so a quiet device simply holds its last partial hour
// until Flush.
//
// All methods are safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	sink     RollupSink

	// windows holds the rolling reading window per device, newest last.
	windows map[string][]Reading

	// buckets holds the open hourly accumulator per (device, channel).
	buckets map[bucketKey]*bucket
}

type bucketKey struct {
	deviceID string
	channel  string
}

// bucket accumulates one device channel over one hour.
type bucket struct {
	hourStart time.Time
	sum       float64
	count     int
}

// NewRecorder creates a Recorder with the given per-device window
// capacity. A nil sink disables rollups; the window still works.
//
// Parameters:
//   - capacity: Max readings retained per device (0 for default)
//   - sink: Destination for completed hourly aggregates (may be nil)
func NewRecorder(capacity int, sink RollupSink) *Recorder {
	if capacity <= 0 {
		capacity = defaultWindowSize
	}
	return &Recorder{
		capacity: capacity,
		sink:     sink,
		windows:  make(map[string][]Reading),
		buckets:  make(map[bucketKey]*bucket),
	}
}

// Append records a reading and returns a snapshot of the device's
// rolling window including the new reading, newest last.
//
// The snapshot is a copy; callers may hold it across evaluation without
// racing later appends.
func (r *Recorder) Append(reading Reading) []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := append(r.windows[reading.DeviceID], reading)
	if len(window) > r.capacity {
		window = window[len(window)-r.capacity:]
	}
	r.windows[reading.DeviceID] = window

	snapshot := make([]Reading, len(window))
	copy(snapshot, window)
	return snapshot
}

// Window returns a snapshot of the device's rolling window, newest
// last. Returns nil for a device with no recorded readings.
func (r *Recorder) Window(deviceID string) []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.windows[deviceID]
	if len(window) == 0 {
		return nil
	}
	snapshot := make([]Reading, len(window))
	copy(snapshot, window)
	return snapshot
}

// Accumulate folds a reading into its hourly bucket, flushing the
// previous hour first when the reading opens a new one.
//
// Separate from Append so callers can keep readings that fail sanity
// checks out of the averages while still evaluating them: a glitching
// sensor reporting 3276.7 must alert, not skew the hourly chart.
func (r *Recorder) Accumulate(reading Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bucketKey{deviceID: reading.DeviceID, channel: reading.Channel}
	hourStart := reading.RecordedAt.UTC().Truncate(time.Hour)

	b, ok := r.buckets[key]
	if ok && !b.hourStart.Equal(hourStart) {
		r.flushBucket(key, b)
		ok = false
	}
	if !ok {
		b = &bucket{hourStart: hourStart}
		r.buckets[key] = b
	}

	b.sum += reading.Value
	b.count++
}

// flushBucket writes one completed bucket to the sink.
// Caller must hold r.mu.
func (r *Recorder) flushBucket(key bucketKey, b *bucket) {
	if r.sink == nil || b.count == 0 {
		return
	}
	avg := b.sum / float64(b.count)
	r.sink.WriteRollup(key.deviceID, key.channel, avg, b.count, b.hourStart.Add(time.Hour))
}

// Flush writes all open buckets to the sink, including partial hours.
// Intended for graceful shutdown.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, b := range r.buckets {
		r.flushBucket(key, b)
		delete(r.buckets, key)
	}
}

// Forget drops all state for a device. Called when a device unpairs so
// a later re-pairing starts with a clean window.
func (r *Recorder) Forget(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.windows, deviceID)
	for key, b := range r.buckets {
		if key.deviceID == deviceID {
			r.flushBucket(key, b)
			delete(r.buckets, key)
		}
	}
}
