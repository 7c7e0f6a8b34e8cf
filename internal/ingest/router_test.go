package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nimbus-iot/nimbus-core/internal/history"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// mockSource serves a fixed rule set and records whether it was asked.
type mockSource struct {
	mu    sync.Mutex
	set   rules.RuleSet
	err   error
	calls int
}

func (m *mockSource) GetRuleSet(context.Context, string) (rules.RuleSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return rules.RuleSet{}, m.err
	}
	return m.set, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockDispatcher records dispatched conditions.
type mockDispatcher struct {
	mu         sync.Mutex
	dispatched []dispatchedAlert
	err        error
}

type dispatchedAlert struct {
	condition rules.Condition
	owner     string
}

func (m *mockDispatcher) Dispatch(_ context.Context, condition rules.Condition, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, dispatchedAlert{condition: condition, owner: owner})
	return m.err
}

func (m *mockDispatcher) all() []dispatchedAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatchedAlert(nil), m.dispatched...)
}

// mockReadingSink records durable history writes.
type mockReadingSink struct {
	mu       sync.Mutex
	readings []history.Reading
}

func (m *mockReadingSink) WriteReading(deviceID, channel string, value float64, recordedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, history.Reading{
		DeviceID: deviceID, Channel: channel, Value: value, RecordedAt: recordedAt,
	})
}

func (m *mockReadingSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

// mockRollupSink records hourly aggregates from the recorder.
type mockRollupSink struct {
	mu      sync.Mutex
	rollups []rolledUp
}

type rolledUp struct {
	channel string
	avg     float64
	samples int
}

func (m *mockRollupSink) WriteRollup(_, channel string, avg float64, samples int, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollups = append(m.rollups, rolledUp{channel: channel, avg: avg, samples: samples})
}

func (m *mockRollupSink) all() []rolledUp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rolledUp(nil), m.rollups...)
}

type routerFixture struct {
	router     *Router
	store      *registry.Store
	mr         *miniredis.Miniredis
	source     *mockSource
	dispatcher *mockDispatcher
	sink       *mockReadingSink
	recorder   *history.Recorder
	rollups    *mockRollupSink
}

func newRouterFixture(t *testing.T, set rules.RuleSet) *routerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redisinfra.Connect(context.Background(), config.RedisConfig{
		Addr:      mr.Addr(),
		OpTimeout: 5,
	})
	if err != nil {
		t.Fatalf("connecting to miniredis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	f := &routerFixture{
		store:      registry.NewStore(client, nil),
		mr:         mr,
		source:     &mockSource{set: set},
		dispatcher: &mockDispatcher{},
		sink:       &mockReadingSink{},
		rollups:    &mockRollupSink{},
	}
	f.recorder = history.NewRecorder(16, f.rollups)
	f.router = NewRouter(
		f.store,
		registry.NewKeyedMutex(),
		f.recorder,
		rules.NewTracker(),
		f.source,
		f.dispatcher,
		f.sink,
		nil,
	)
	return f
}

func (f *routerFixture) pairDevice(t *testing.T, deviceID, owner string) {
	t.Helper()
	err := f.store.Put(context.Background(), &registry.Device{
		ID:    deviceID,
		State: registry.StatePaired,
		Owner: &owner,
	})
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}
}

func telemetryPayload(deviceID string, value float64, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"deviceId":%q,"channel":"temperature","value":%v,"timestamp":%q}`,
		deviceID, value, at.Format(time.RFC3339),
	))
}

func tempRule(consecutive int) rules.RuleSet {
	return rules.RuleSet{Rules: []rules.Rule{{
		ID:          "temp-high",
		Channel:     "temperature",
		Comparator:  rules.CompGreaterThan,
		Threshold:   80,
		Consecutive: consecutive,
	}}}
}

func TestHandle_Accepted(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	f.pairDevice(t, "d1", "u1")

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 25, at))

	if !result.Accepted {
		t.Fatalf("Handle() = %+v, want accepted", result)
	}

	// Last-seen recorded
	device, err := f.store.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if device.LastSeen == nil || !device.LastSeen.Equal(at) {
		t.Errorf("LastSeen = %v, want %v", device.LastSeen, at)
	}

	// Reading forwarded to durable history
	if f.sink.count() != 1 {
		t.Errorf("sink writes = %d, want 1", f.sink.count())
	}
}

func TestHandle_Malformed(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	f.pairDevice(t, "d1", "u1")
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{{{")},
		{"missing deviceId", []byte(`{"channel":"temperature","value":1,"timestamp":"2026-02-10T09:00:00Z"}`)},
		{"missing channel", []byte(`{"deviceId":"d1","value":1,"timestamp":"2026-02-10T09:00:00Z"}`)},
		{"missing value", []byte(`{"deviceId":"d1","channel":"temperature","timestamp":"2026-02-10T09:00:00Z"}`)},
		{"bad timestamp", []byte(`{"deviceId":"d1","channel":"temperature","value":1,"timestamp":"yesterday"}`)},
		{"topic mismatch", telemetryPayload("d2", 25, at)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.router.Handle(ctx, "d1", tt.payload)
			if result.Accepted || result.Reason != ReasonMalformed {
				t.Errorf("Handle() = %+v, want rejection with malformed_input", result)
			}
		})
	}

	// Malformed input never reaches the rule source.
	if f.source.callCount() != 0 {
		t.Errorf("rule source calls = %d, want 0", f.source.callCount())
	}
}

func TestHandle_UnknownDevice(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "ghost", telemetryPayload("ghost", 95, at))

	if result.Accepted || result.Reason != ReasonUnknownDevice {
		t.Fatalf("Handle() = %+v, want rejection with unknown_device", result)
	}
	if f.source.callCount() != 0 {
		t.Errorf("rule source calls = %d, want 0", f.source.callCount())
	}
}

func TestHandle_NotPaired(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	for _, state := range []registry.PairingState{registry.StateUnpaired, registry.StatePendingPairing} {
		t.Run(string(state), func(t *testing.T) {
			if err := f.store.Put(context.Background(), &registry.Device{ID: "d1", State: state}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 95, at))
			if result.Accepted || result.Reason != ReasonNotPaired {
				t.Errorf("Handle() = %+v, want rejection with not_paired", result)
			}
		})
	}

	// Non-paired telemetry never reaches evaluation.
	if f.source.callCount() != 0 {
		t.Errorf("rule source calls = %d, want 0", f.source.callCount())
	}
	if len(f.dispatcher.all()) != 0 {
		t.Errorf("dispatches = %d, want 0", len(f.dispatcher.all()))
	}
}

func TestHandle_RegistryUnavailable(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	f.mr.Close()

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 95, at))

	if result.Accepted || result.Reason != ReasonRegistryUnavailable {
		t.Fatalf("Handle() = %+v, want rejection with registry_unavailable", result)
	}
	if !result.Retryable() {
		t.Error("registry_unavailable should be retryable")
	}
}

func TestHandle_ConditionDispatched(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	f.pairDevice(t, "d1", "u1")

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 95, at))
	if !result.Accepted {
		t.Fatalf("Handle() = %+v, want accepted", result)
	}

	dispatched := f.dispatcher.all()
	if len(dispatched) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(dispatched))
	}
	if dispatched[0].owner != "u1" {
		t.Errorf("owner = %q, want u1", dispatched[0].owner)
	}
	if dispatched[0].condition.RuleID != "temp-high" {
		t.Errorf("rule = %q, want temp-high", dispatched[0].condition.RuleID)
	}
}

func TestHandle_ConsecutiveScenario(t *testing.T) {
	// temp > 80 for 3 readings: [85, 90, 81] alerts once, after the third.
	f := newRouterFixture(t, tempRule(3))
	f.pairDevice(t, "d1", "u1")
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	for i, v := range []float64{85, 90, 81} {
		result := f.router.Handle(ctx, "d1", telemetryPayload("d1", v, at.Add(time.Duration(i)*time.Minute)))
		if !result.Accepted {
			t.Fatalf("reading %d: Handle() = %+v, want accepted", i+1, result)
		}
	}

	if got := len(f.dispatcher.all()); got != 1 {
		t.Errorf("dispatches = %d, want 1", got)
	}
}

func TestHandle_NoRuleSetStillAccepted(t *testing.T) {
	f := newRouterFixture(t, rules.RuleSet{})
	f.source.err = rules.ErrRuleSetNotFound
	f.pairDevice(t, "d1", "u1")

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 95, at))

	if !result.Accepted {
		t.Fatalf("Handle() = %+v, want accepted", result)
	}
	if f.sink.count() != 1 {
		t.Errorf("sink writes = %d, want 1", f.sink.count())
	}
}

func TestHandle_DispatchFailureStillAccepted(t *testing.T) {
	f := newRouterFixture(t, tempRule(1))
	f.dispatcher.err = fmt.Errorf("provider down")
	f.pairDevice(t, "d1", "u1")

	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	result := f.router.Handle(context.Background(), "d1", telemetryPayload("d1", 95, at))

	if !result.Accepted {
		t.Errorf("Handle() = %+v, want accepted despite dispatch failure", result)
	}
}

func TestForget_ResetsCounters(t *testing.T) {
	f := newRouterFixture(t, tempRule(3))
	f.pairDevice(t, "d1", "u1")
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	// Two of three violations, then the device state is forgotten.
	f.router.Handle(ctx, "d1", telemetryPayload("d1", 85, at))
	f.router.Handle(ctx, "d1", telemetryPayload("d1", 86, at.Add(time.Minute)))
	f.router.Forget("d1")

	// The run restarts: one more violation must not alert.
	f.router.Handle(ctx, "d1", telemetryPayload("d1", 87, at.Add(2*time.Minute)))
	if got := len(f.dispatcher.all()); got != 0 {
		t.Errorf("dispatches = %d, want 0 after Forget", got)
	}
}

func TestHandle_RollupSkipsOutOfRangeReading(t *testing.T) {
	// A glitching sensor must alert, but its value stays out of the
	// hourly average.
	set := rules.RuleSet{Rules: []rules.Rule{{
		ID:          "temp-sane",
		Channel:     "temperature",
		Comparator:  rules.CompOutOfRange,
		RangeMin:    -40,
		RangeMax:    100,
		Consecutive: 1,
	}}}
	f := newRouterFixture(t, set)
	f.pairDevice(t, "d1", "u1")
	ctx := context.Background()
	hour := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		value float64
		at    time.Time
	}{
		{20, hour.Add(5 * time.Minute)},
		{22, hour.Add(25 * time.Minute)},
		{3276.7, hour.Add(45 * time.Minute)},
	} {
		result := f.router.Handle(ctx, "d1", telemetryPayload("d1", tt.value, tt.at))
		if !result.Accepted {
			t.Fatalf("Handle(%v) = %+v, want accepted", tt.value, result)
		}
	}

	// The glitch dispatched an alert and stayed in the evaluation window.
	if got := len(f.dispatcher.all()); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
	if got := len(f.recorder.Window("d1")); got != 3 {
		t.Errorf("window length = %d, want 3", got)
	}

	// The next hour's first reading flushes the bucket.
	f.router.Handle(ctx, "d1", telemetryPayload("d1", 21, hour.Add(65*time.Minute)))

	got := f.rollups.all()
	if len(got) != 1 {
		t.Fatalf("rollups = %d, want 1", len(got))
	}
	if got[0].avg != 21 {
		t.Errorf("rollup avg = %v, want 21 without the glitch", got[0].avg)
	}
	if got[0].samples != 2 {
		t.Errorf("rollup samples = %d, want 2", got[0].samples)
	}
}

func TestHandle_RuleSourceFailureLeavesNoState(t *testing.T) {
	// A retryable rejection must leave nothing behind: the broker will
	// redeliver the same message, and it must not be counted twice.
	f := newRouterFixture(t, tempRule(1))
	f.pairDevice(t, "d1", "u1")
	ctx := context.Background()
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	payload := telemetryPayload("d1", 25, at)

	f.source.err = fmt.Errorf("rules database down")
	result := f.router.Handle(ctx, "d1", payload)
	if result.Accepted || result.Reason != ReasonRegistryUnavailable {
		t.Fatalf("Handle() = %+v, want rejection with registry_unavailable", result)
	}
	if !result.Retryable() {
		t.Error("a rule source outage should be retryable")
	}
	if got := len(f.recorder.Window("d1")); got != 0 {
		t.Errorf("window length = %d after rejection, want 0", got)
	}
	if f.sink.count() != 0 {
		t.Errorf("sink writes = %d after rejection, want 0", f.sink.count())
	}

	// Redelivery after the outage counts the reading exactly once.
	f.source.err = nil
	result = f.router.Handle(ctx, "d1", payload)
	if !result.Accepted {
		t.Fatalf("Handle() on redelivery = %+v, want accepted", result)
	}
	if got := len(f.recorder.Window("d1")); got != 1 {
		t.Errorf("window length = %d after redelivery, want 1", got)
	}
	if f.sink.count() != 1 {
		t.Errorf("sink writes = %d after redelivery, want 1", f.sink.count())
	}
}
