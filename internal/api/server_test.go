package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/logging"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/pairing"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

const testSecret = "test-secret-do-not-use"

type apiFixture struct {
	handler http.Handler
	store   *registry.Store
	mr      *miniredis.Miniredis
}

func newAPIFixture(t *testing.T) *apiFixture {
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

	logger := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
	store := registry.NewStore(client, nil)
	pairingCfg := config.PairingConfig{CodeTTL: 10, MaxAttempts: 5, CodeLength: 6}
	coordinator := pairing.NewCoordinator(store, client, registry.NewKeyedMutex(), pairingCfg, nil)

	server, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Pairing:  pairingCfg,
		Logger:   logger,
		Registry: store,
		Pairer:   coordinator,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &apiFixture{
		handler: server.buildRouter(),
		store:   store,
		mr:      mr,
	}
}

// bearerToken signs a test token for the given user with the shared secret.
func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// do performs a request against the fixture and decodes the JSON response.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func (f *apiFixture) seedDevice(t *testing.T, device *registry.Device) {
	t.Helper()
	if err := f.store.Put(context.Background(), device); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDevice(t, &registry.Device{ID: "d1", State: registry.StateUnpaired})

	t.Run("missing token", func(t *testing.T) {
		status, body := f.do(t, http.MethodGet, "/api/v1/devices/d1", "", nil)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
		if body["code"] != ErrCodeUnauthorized {
			t.Errorf("code = %v, want %s", body["code"], ErrCodeUnauthorized)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		if err != nil {
			t.Fatalf("signing forged token: %v", err)
		}
		status, _ := f.do(t, http.MethodGet, "/api/v1/devices/d1", forged, nil)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}
		stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("signing stale token: %v", err)
		}
		status, _ := f.do(t, http.MethodGet, "/api/v1/devices/d1", stale, nil)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
	})

	t.Run("no subject", func(t *testing.T) {
		claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
		anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("signing anonymous token: %v", err)
		}
		status, _ := f.do(t, http.MethodGet, "/api/v1/devices/d1", anonymous, nil)
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		status, _ := f.do(t, http.MethodGet, "/api/v1/devices/d1", bearerToken(t, "u1"), nil)
		if status != http.StatusOK {
			t.Errorf("status = %d, want 200", status)
		}
	})
}

func TestGetDevice(t *testing.T) {
	f := newAPIFixture(t)
	token := bearerToken(t, "u1")

	owner := "u1"
	seen := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	f.seedDevice(t, &registry.Device{
		ID:              "sensor-01",
		State:           registry.StatePaired,
		Owner:           &owner,
		LastSeen:        &seen,
		FirmwareVersion: "2.4.1",
	})

	t.Run("found", func(t *testing.T) {
		status, body := f.do(t, http.MethodGet, "/api/v1/devices/sensor-01", token, nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
		if body["id"] != "sensor-01" || body["state"] != "paired" || body["owner"] != "u1" {
			t.Errorf("body = %v, want paired sensor-01 owned by u1", body)
		}
		if body["firmware_version"] != "2.4.1" {
			t.Errorf("firmware_version = %v, want 2.4.1", body["firmware_version"])
		}
	})

	t.Run("not found", func(t *testing.T) {
		status, body := f.do(t, http.MethodGet, "/api/v1/devices/ghost", token, nil)
		if status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
		if body["code"] != ErrCodeNotFound {
			t.Errorf("code = %v, want %s", body["code"], ErrCodeNotFound)
		}
	})
}

func TestPairingFlow(t *testing.T) {
	f := newAPIFixture(t)
	token := bearerToken(t, "u1")

	// Request issues a code and moves the device to pending.
	status, body := f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/request", token, nil)
	if status != http.StatusOK {
		t.Fatalf("request status = %d, want 200", status)
	}
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatal("pairing request returned no code")
	}
	if body["expires_in"] != float64(600) {
		t.Errorf("expires_in = %v, want 600", body["expires_in"])
	}

	// Wrong code is rejected without abandoning the request.
	status, body = f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/confirm", token,
		confirmPairingRequest{Code: "WRONG1"})
	if status != http.StatusForbidden {
		t.Fatalf("wrong-code status = %d, want 403", status)
	}
	if body["code"] != ErrCodeCodeMismatch {
		t.Errorf("error code = %v, want %s", body["code"], ErrCodeCodeMismatch)
	}

	// Right code pairs the device to the token's subject.
	status, body = f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/confirm", token,
		confirmPairingRequest{Code: code})
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", status)
	}
	if body["state"] != "paired" || body["owner"] != "u1" {
		t.Errorf("body = %v, want paired device owned by u1", body)
	}

	// Re-requesting a paired device conflicts.
	status, body = f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/request", token, nil)
	if status != http.StatusConflict {
		t.Errorf("re-request status = %d, want 409", status)
	}
	if body["code"] != ErrCodeConflict {
		t.Errorf("error code = %v, want %s", body["code"], ErrCodeConflict)
	}

	// Unpair returns the device to unpaired with no owner.
	status, body = f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/unpair", token, nil)
	if status != http.StatusOK {
		t.Fatalf("unpair status = %d, want 200", status)
	}
	if body["state"] != "unpaired" {
		t.Errorf("state = %v, want unpaired", body["state"])
	}
	if _, hasOwner := body["owner"]; hasOwner {
		t.Errorf("owner still present after unpair: %v", body["owner"])
	}
}

func TestConfirmPairing_Validation(t *testing.T) {
	f := newAPIFixture(t)
	token := bearerToken(t, "u1")

	t.Run("missing code", func(t *testing.T) {
		status, body := f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/confirm", token,
			map[string]string{})
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
		if body["code"] != ErrCodeBadRequest {
			t.Errorf("error code = %v, want %s", body["code"], ErrCodeBadRequest)
		}
	})

	t.Run("no pending request", func(t *testing.T) {
		f.seedDevice(t, &registry.Device{ID: "idle", State: registry.StateUnpaired})
		status, body := f.do(t, http.MethodPost, "/api/v1/devices/idle/pairing/confirm", token,
			confirmPairingRequest{Code: "ABCDEF"})
		if status != http.StatusConflict {
			t.Errorf("status = %d, want 409", status)
		}
		if body["code"] != ErrCodeConflict {
			t.Errorf("error code = %v, want %s", body["code"], ErrCodeConflict)
		}
	})
}

func TestPairing_Lockout(t *testing.T) {
	f := newAPIFixture(t)
	token := bearerToken(t, "u1")

	status, _ := f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/request", token, nil)
	if status != http.StatusOK {
		t.Fatalf("request status = %d, want 200", status)
	}

	// Four mismatches leave the request live, the fifth abandons it.
	for i := 0; i < 4; i++ {
		status, _ = f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/confirm", token,
			confirmPairingRequest{Code: "WRONG1"})
		if status != http.StatusForbidden {
			t.Fatalf("attempt %d status = %d, want 403", i+1, status)
		}
	}

	status, body := f.do(t, http.MethodPost, "/api/v1/devices/d1/pairing/confirm", token,
		confirmPairingRequest{Code: "WRONG1"})
	if status != http.StatusTooManyRequests {
		t.Fatalf("lockout status = %d, want 429", status)
	}
	if body["code"] != ErrCodeTooManyAttempts {
		t.Errorf("error code = %v, want %s", body["code"], ErrCodeTooManyAttempts)
	}

	// Device is back to unpaired after the lockout.
	status, body = f.do(t, http.MethodGet, "/api/v1/devices/d1", token, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if body["state"] != "unpaired" {
		t.Errorf("state = %v, want unpaired after lockout", body["state"])
	}
}

func TestHealth_DegradedComponent(t *testing.T) {
	f := newAPIFixture(t)

	// Rebuild the handler with a failing checker.
	logger := logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
	pairingCfg := config.PairingConfig{CodeTTL: 10, MaxAttempts: 5, CodeLength: 6}
	server, err := New(Deps{
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Pairing:  pairingCfg,
		Logger:   logger,
		Registry: f.store,
		Pairer:   pairing.NewCoordinator(f.store, nil, registry.NewKeyedMutex(), pairingCfg, nil),
		Checkers: map[string]HealthChecker{
			"redis": healthCheckerFunc(func(context.Context) error { return nil }),
			"mqtt":  healthCheckerFunc(func(context.Context) error { return fmt.Errorf("not connected") }),
		},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	server.buildRouter().ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	components, _ := body["components"].(map[string]any)
	if components["redis"] != "ok" {
		t.Errorf("redis = %v, want ok", components["redis"])
	}
	if components["mqtt"] != "not connected" {
		t.Errorf("mqtt = %v, want not connected", components["mqtt"])
	}
}

type healthCheckerFunc func(ctx context.Context) error

func (f healthCheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
