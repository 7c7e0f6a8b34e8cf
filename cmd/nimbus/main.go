// Nimbus Core - IoT Telemetry and Alerting Service
//
// This is the main entry point for the Nimbus Core application.
// Nimbus Core is the server side of a consumer IoT fleet:
//   - Telemetry ingestion over MQTT with per-device pairing enforcement
//   - Threshold rule evaluation with consecutive-violation alerting
//   - Email alert delivery with cooldown suppression and retry
//   - Device pairing lifecycle driven by the companion app
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nimbus-iot/nimbus-core/migrations"

	"github.com/nimbus-iot/nimbus-core/internal/api"
	"github.com/nimbus-iot/nimbus-core/internal/history"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/config"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/database"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/influxdb"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/logging"
	"github.com/nimbus-iot/nimbus-core/internal/infrastructure/mqtt"
	redisinfra "github.com/nimbus-iot/nimbus-core/internal/infrastructure/redis"
	"github.com/nimbus-iot/nimbus-core/internal/ingest"
	"github.com/nimbus-iot/nimbus-core/internal/notify"
	"github.com/nimbus-iot/nimbus-core/internal/pairing"
	"github.com/nimbus-iot/nimbus-core/internal/registry"
	"github.com/nimbus-iot/nimbus-core/internal/rules"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Nimbus Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the rules database
	db, err := database.Open(cfg.RulesDB)
	if err != nil {
		return fmt.Errorf("opening rules database: %w", err)
	}
	defer func() {
		log.Info("closing rules database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing rules database", "error", closeErr)
		}
	}()
	log.Info("rules database connected", "path", cfg.RulesDB.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to Redis (device registry, pairing requests, cooldowns)
	redisClient, err := redisinfra.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer func() {
		log.Info("closing Redis connection")
		if closeErr := redisClient.Close(); closeErr != nil {
			log.Error("error closing Redis", "error", closeErr)
		}
	}()
	log.Info("Redis connected", "addr", cfg.Redis.Addr)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	influxClient, err = influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Device registry and shared per-device locks
	store := registry.NewStore(redisClient, log)
	locks := registry.NewKeyedMutex()

	// Reading history with hourly rollups
	var rollupSink history.RollupSink
	if influxClient != nil {
		rollupSink = influxClient
	}
	recorder := history.NewRecorder(0, rollupSink)
	defer recorder.Flush()

	// Rule evaluation
	ruleSource := rules.NewSource(db)
	tracker := rules.NewTracker()

	// Alert delivery
	provider := notify.NewProviderClient(
		cfg.Notifier.ProviderURL,
		cfg.Notifier.APIKey,
		cfg.Notifier.Sender,
		time.Duration(cfg.Notifier.RequestTimeout)*time.Second,
	)
	directory := notify.NewDirectoryClient(
		cfg.Notifier.DirectoryURL,
		time.Duration(cfg.Notifier.RequestTimeout)*time.Second,
	)
	var auditor notify.Auditor
	if influxClient != nil {
		auditor = influxClient
	}
	notifier := notify.NewNotifier(redisClient, provider, directory, auditor, cfg.Notifier, log)

	// Telemetry pipeline
	var readingSink ingest.ReadingSink
	if influxClient != nil {
		readingSink = influxClient
	}
	router := ingest.NewRouter(store, locks, recorder, tracker, ruleSource, notifier, readingSink, log)

	bindings := ingest.NewBindings(router, store, mqttClient, cfg.Service.FirmwareVersion, log)
	if err := bindings.Bind(ctx); err != nil {
		return fmt.Errorf("binding telemetry ingress: %w", err)
	}
	log.Info("telemetry ingress bound")

	// Pairing coordinator; unpairing discards in-flight evaluation state
	coordinator := pairing.NewCoordinator(store, redisClient, locks, cfg.Pairing, log)
	coordinator.SetOnUnpair(router.Forget)

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Pairing:  cfg.Pairing,
		Logger:   log,
		Registry: store,
		Pairer:   coordinator,
		Checkers: healthCheckers(db, redisClient, mqttClient, influxClient),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, redisClient, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Recorder flush (open rollup buckets)
	// 3. MQTT
	// 4. InfluxDB (if enabled)
	// 5. Redis
	// 6. Rules database

	log.Info("Nimbus Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NIMBUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NIMBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckers collects the components reported by the API health endpoint.
func healthCheckers(db *database.DB, redisClient *redisinfra.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checkers := map[string]api.HealthChecker{
		"rules_db": db,
		"redis":    redisClient,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checkers["influxdb"] = influxClient
	}
	return checkers
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Rules database to check
//   - redisClient: Redis client to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, redisClient *redisinfra.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("rules database: %w", err)
	}

	if err := redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
