package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nimbus-iot/nimbus-core/internal/history"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// mockProvider records sends and fails on demand.
type mockProvider struct {
	mu       sync.Mutex
	sends    []mockSend
	failNext int // fail this many sends before succeeding
	failAll  bool
}

type mockSend struct {
	to      string
	subject string
	body    string
}

func (m *mockProvider) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("provider down")
	}
	if m.failNext > 0 {
		m.failNext--
		return errors.New("transient provider error")
	}
	m.sends = append(m.sends, mockSend{to: to, subject: subject, body: body})
	return nil
}

func (m *mockProvider) sent() []mockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSend(nil), m.sends...)
}

// mockDirectory resolves every owner to a fixed recipient.
type mockDirectory struct {
	mu        sync.Mutex
	recipient Recipient
	err       error
	failNext  int // fail this many lookups before succeeding
	calls     int
}

func (m *mockDirectory) Lookup(context.Context, string) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext > 0 {
		m.failNext--
		return Recipient{}, errors.New("transient directory error")
	}
	if m.err != nil {
		return Recipient{}, m.err
	}
	return m.recipient, nil
}

func testNotifierConfig() config.NotifierConfig {
	return config.NotifierConfig{
		Cooldown:    60,
		MaxAttempts: 3,
		BackoffBase: 1, // keep retry tests fast
	}
}

func newTestNotifier(t *testing.T, provider EmailSender, directory DirectoryLookup) (*Notifier, *miniredis.Miniredis, *redisinfra.Client) {
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

	return NewNotifier(client, provider, directory, nil, testNotifierConfig(), nil), mr, client
}

func testCondition(deviceID, ruleID string) rules.Condition {
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return rules.Condition{
		ID:       "evt-1",
		RuleID:   ruleID,
		DeviceID: deviceID,
		Channel:  "temperature",
		Readings: []history.Reading{
			{DeviceID: deviceID, Channel: "temperature", Value: 91.5, RecordedAt: at},
		},
		DetectedAt: at,
	}
}

func TestDispatch_Delivers(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, _ := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	sends := provider.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].to != "ada@example.com" {
		t.Errorf("to = %q, want ada@example.com", sends[0].to)
	}
	if !strings.Contains(sends[0].subject, "d1") {
		t.Errorf("subject %q missing device ID", sends[0].subject)
	}
	if !strings.Contains(sends[0].body, "Hello Ada") {
		t.Errorf("body missing greeting: %q", sends[0].body)
	}
	if !strings.Contains(sends[0].body, "temp-high") {
		t.Errorf("body missing rule ID")
	}
}

func TestDispatch_CooldownSuppresses(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, _ := newTestNotifier(t, provider, directory)
	ctx := context.Background()

	condition := testCondition("d1", "temp-high")
	if err := notifier.Dispatch(ctx, condition, "u1"); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	if err := notifier.Dispatch(ctx, condition, "u1"); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}

	if sends := provider.sent(); len(sends) != 1 {
		t.Errorf("sends = %d, want 1 (second suppressed)", len(sends))
	}
}

func TestDispatch_CooldownExpiry(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, mr, _ := newTestNotifier(t, provider, directory)
	ctx := context.Background()

	condition := testCondition("d1", "temp-high")
	if err := notifier.Dispatch(ctx, condition, "u1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// After the window lapses the same pair alerts again.
	mr.FastForward(61 * time.Minute)

	if err := notifier.Dispatch(ctx, condition, "u1"); err != nil {
		t.Fatalf("Dispatch() after expiry error = %v", err)
	}
	if sends := provider.sent(); len(sends) != 2 {
		t.Errorf("sends = %d, want 2", len(sends))
	}
}

func TestDispatch_DistinctRulesNotSuppressed(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, _ := newTestNotifier(t, provider, directory)
	ctx := context.Background()

	if err := notifier.Dispatch(ctx, testCondition("d1", "temp-high"), "u1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := notifier.Dispatch(ctx, testCondition("d1", "hum-range"), "u1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if sends := provider.sent(); len(sends) != 2 {
		t.Errorf("sends = %d, want 2", len(sends))
	}
}

func TestDispatch_ConcurrentSingleSend(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, _ := newTestNotifier(t, provider, directory)

	const dispatchers = 10
	var wg sync.WaitGroup
	for i := 0; i < dispatchers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
		}()
	}
	wg.Wait()

	if sends := provider.sent(); len(sends) != 1 {
		t.Errorf("sends = %d, want exactly 1 under concurrent dispatch", len(sends))
	}
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	provider := &mockProvider{failNext: 2}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, _ := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want success on third attempt", err)
	}
	if sends := provider.sent(); len(sends) != 1 {
		t.Errorf("sends = %d, want 1", len(sends))
	}
}

func TestDispatch_ExhaustedRetriesParksAlert(t *testing.T) {
	provider := &mockProvider{failAll: true}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, _, client := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Dispatch() error = %v, want ErrDeliveryFailed", err)
	}

	entries, err := client.DB().XRange(context.Background(), UndeliveredStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("reading undelivered stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("undelivered entries = %d, want 1", len(entries))
	}
	values := entries[0].Values
	if values["device_id"] != "d1" || values["rule_id"] != "temp-high" {
		t.Errorf("parked alert identity = %v", values)
	}
	if values["owner"] != "u1" {
		t.Errorf("parked alert owner = %v, want u1", values["owner"])
	}

	// The cooldown stays claimed after a failed delivery: an immediate
	// repeat is suppressed, not parked a second time.
	if err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1"); err != nil {
		t.Fatalf("repeat Dispatch() error = %v, want suppression", err)
	}
	entries, err = client.DB().XRange(context.Background(), UndeliveredStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("reading undelivered stream: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("undelivered entries after repeat = %d, want 1", len(entries))
	}
}

func TestDispatch_DirectoryFailureParksAlert(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{err: errors.New("directory down")}
	notifier, _, client := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Dispatch() error = %v, want ErrDeliveryFailed", err)
	}
	if sends := provider.sent(); len(sends) != 0 {
		t.Errorf("sends = %d, want 0", len(sends))
	}

	entries, err := client.DB().XRange(context.Background(), UndeliveredStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("reading undelivered stream: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("undelivered entries = %d, want 1", len(entries))
	}
}

func TestDispatch_DirectoryRetriesThenSucceeds(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{
		recipient: Recipient{Name: "Ada", Email: "ada@example.com"},
		failNext:  2,
	}
	notifier, _, _ := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if sends := provider.sent(); len(sends) != 1 {
		t.Errorf("sends = %d, want 1 after transient lookup failures", len(sends))
	}
	if directory.calls != 3 {
		t.Errorf("lookups = %d, want 3", directory.calls)
	}
}

func TestDispatch_NoDestinationFailsFast(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{err: ErrNoDestination}
	notifier, _, _ := newTestNotifier(t, provider, directory)

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Dispatch() error = %v, want ErrDeliveryFailed", err)
	}

	// A missing destination is permanent; retrying the lookup would
	// just hammer the directory.
	if directory.calls != 1 {
		t.Errorf("lookups = %d, want 1", directory.calls)
	}
}

func TestDispatch_CooldownStoreDown(t *testing.T) {
	provider := &mockProvider{}
	directory := &mockDirectory{recipient: Recipient{Name: "Ada", Email: "ada@example.com"}}
	notifier, mr, _ := newTestNotifier(t, provider, directory)

	mr.Close()

	err := notifier.Dispatch(context.Background(), testCondition("d1", "temp-high"), "u1")
	if !errors.Is(err, ErrCooldownUnavailable) {
		t.Fatalf("Dispatch() error = %v, want ErrCooldownUnavailable", err)
	}
	if sends := provider.sent(); len(sends) != 0 {
		t.Errorf("sends = %d, want 0", len(sends))
	}
}

func TestRenderAlert_FallbackGreeting(t *testing.T) {
	subject, body, err := renderAlert(Recipient{Email: "x@example.com"}, testCondition("d1", "temp-high"))
	if err != nil {
		t.Fatalf("renderAlert() error = %v", err)
	}
	if !strings.Contains(body, "Hello there") {
		t.Errorf("body missing fallback greeting: %q", body)
	}
	if subject == "" {
		t.Error("empty subject")
	}
}
