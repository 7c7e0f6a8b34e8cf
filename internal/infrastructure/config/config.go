package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Nimbus Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Redis    RedisConfig    `yaml:"redis"`
	RulesDB  RulesDBConfig  `yaml:"rules_db"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Notifier NotifierConfig `yaml:"notifier"`
	API      APIConfig      `yaml:"api"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains service-level identification.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`

	// FirmwareVersion is the firmware release devices are expected to
	// run. Check-ins reporting anything else receive an update notice.
	// Empty disables the check.
	FirmwareVersion string `yaml:"firmware_version"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RedisConfig contains settings for the durable key-value store that backs
// the device registry, pairing requests, alert cooldowns, and the
// undelivered-alert queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// OpTimeout is the per-operation timeout in seconds. Store calls that
	// exceed it are surfaced as transient failures, never swallowed.
	OpTimeout int `yaml:"op_timeout"`
}

// RulesDBConfig contains SQLite settings for the read-only rule
// configuration source.
type RulesDBConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the telemetry
// history sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// PairingConfig contains the tunables of the pairing state machine.
// The thresholds are deployment policy, so none are hard-coded.
type PairingConfig struct {
	// CodeTTL is how long an issued pairing code remains valid (minutes).
	CodeTTL int `yaml:"code_ttl"`

	// MaxAttempts is the number of consecutive failed confirmations before
	// the code is invalidated and the device reverts to unpaired.
	MaxAttempts int `yaml:"max_attempts"`

	// CodeLength is the number of characters in a generated pairing code.
	CodeLength int `yaml:"code_length"`
}

// NotifierConfig contains settings for outbound alert delivery.
type NotifierConfig struct {
	// ProviderURL is the base URL of the external email/notification provider.
	ProviderURL string `yaml:"provider_url"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// Sender is the from-address for alert emails.
	Sender string `yaml:"sender"`

	// DirectoryURL is the base URL of the identity provider endpoint used to
	// resolve a device owner to a name and email address.
	DirectoryURL string `yaml:"directory_url"`

	// Cooldown is the minimum interval between alerts for the same
	// (device, rule) pair, in minutes.
	Cooldown int `yaml:"cooldown"`

	// MaxAttempts is the number of delivery attempts before an alert is
	// parked on the undelivered queue.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the initial retry delay in milliseconds; each retry
	// doubles it.
	BackoffBase int `yaml:"backoff_base"`

	// RequestTimeout is the per-attempt HTTP timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for validating tokens issued by the external
// identity provider.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NIMBUS_SECTION_KEY
// For example: NIMBUS_REDIS_ADDR, NIMBUS_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "nimbus-core",
			Timezone: "UTC",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nimbus-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			OpTimeout: 5,
		},
		RulesDB: RulesDBConfig{
			Path:        "./data/rules.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Pairing: PairingConfig{
			CodeTTL:     10,
			MaxAttempts: 5,
			CodeLength:  10,
		},
		Notifier: NotifierConfig{
			Cooldown:       60,
			MaxAttempts:    3,
			BackoffBase:    500,
			RequestTimeout: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NIMBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("NIMBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NIMBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NIMBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("NIMBUS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NIMBUS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NIMBUS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	// Rules database
	if v := os.Getenv("NIMBUS_RULES_DB_PATH"); v != "" {
		cfg.RulesDB.Path = v
	}

	// InfluxDB
	if v := os.Getenv("NIMBUS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Notifier provider credentials
	if v := os.Getenv("NIMBUS_NOTIFIER_API_KEY"); v != "" {
		cfg.Notifier.APIKey = v
	}

	// API
	if v := os.Getenv("NIMBUS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("NIMBUS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Name == "" {
		errs = append(errs, "service.name is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Redis validation
	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	// Rules database validation
	if c.RulesDB.Path == "" {
		errs = append(errs, "rules_db.path is required")
	}

	// Pairing validation - a permissive retry budget defeats the lockout
	if c.Pairing.CodeTTL < 1 {
		errs = append(errs, "pairing.code_ttl must be at least 1 minute")
	}
	if c.Pairing.MaxAttempts < 1 {
		errs = append(errs, "pairing.max_attempts must be at least 1")
	}
	const minCodeLength = 6
	if c.Pairing.CodeLength < minCodeLength {
		errs = append(errs, "pairing.code_length must be at least 6 characters")
	}

	// Notifier validation
	if c.Notifier.Cooldown < 1 {
		errs = append(errs, "notifier.cooldown must be at least 1 minute")
	}
	if c.Notifier.MaxAttempts < 1 {
		errs = append(errs, "notifier.max_attempts must be at least 1")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// Pairing confirmation trusts the token subject as the device owner;
	// a weak secret would let an attacker pair arbitrary devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NIMBUS_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// PairingCodeTTL returns the pairing code lifetime as a Duration.
func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.Pairing.CodeTTL) * time.Minute
}

// AlertCooldown returns the alert cooldown window as a Duration.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Notifier.Cooldown) * time.Minute
}

// RedisOpTimeout returns the per-operation Redis timeout as a Duration.
func (c *Config) RedisOpTimeout() time.Duration {
	return time.Duration(c.Redis.OpTimeout) * time.Second
}
