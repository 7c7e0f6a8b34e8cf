package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
)

func testConfig(t *testing.T) config.RulesDBConfig {
	t.Helper()
	return config.RulesDBConfig{
		Path:        filepath.Join(t.TempDir(), "rules.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpen_CreatesMissingDirectory(t *testing.T) {
	cfg := config.RulesDBConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "dir", "rules.db"),
		BusyTimeout: 5,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}

	// sql.DB.Close is safe to call twice
	if err := db.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantDesc    string
		wantOK      bool
	}{
		{"valid", "20260215_100000_rule_schema.sql", "20260215_100000", "rule_schema", true},
		{"multi-word description", "20260215_100000_seed_default_rules.sql", "20260215_100000", "seed_default_rules", true},
		{"not sql", "20260215_100000_rule_schema.txt", "", "", false},
		{"missing description", "20260215_100000.sql", "", "", false},
		{"no version", "readme.sql", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, desc, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("parseMigrationFilename(%q) ok = %v, want %v", tt.filename, ok, tt.wantOK)
			}
			if version != tt.wantVersion || desc != tt.wantDesc {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q), want (%q, %q)",
					tt.filename, version, desc, tt.wantVersion, tt.wantDesc)
			}
		})
	}
}
