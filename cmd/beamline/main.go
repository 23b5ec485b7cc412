// Beamline Core - screen control service
//
// This is the main entry point for Beamline Core. It serves the device
// catalog and drives profile-monitor screens: target insertion guarded by
// an upstream check, retraction, and live acquire/image/status streams.
//
// The control system is reached through an MQTT value gateway, or through
// an in-process simulator when control.backend is "memory".
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/beamline-core/internal/actionloop"
	"github.com/nerrad567/beamline-core/internal/api"
	"github.com/nerrad567/beamline-core/internal/audit"
	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
	"github.com/nerrad567/beamline-core/internal/events"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/database"
	"github.com/nerrad567/beamline-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beamline-core/internal/screen"
	"github.com/nerrad567/beamline-core/migrations"
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

// shutdownTimeout bounds how long open screens get to release accessors.
const shutdownTimeout = 10 * time.Second

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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Beamline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Device catalog
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS, "."); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	catalog := devicedb.NewSQLiteCatalog(db)
	if cfg.Catalog.SeedFile != "" {
		n, seedErr := seedCatalog(ctx, catalog, cfg.Catalog.SeedFile)
		if seedErr != nil {
			return fmt.Errorf("seeding catalog: %w", seedErr)
		}
		log.Info("catalog seeded", "path", cfg.Catalog.SeedFile, "devices", n)
	}

	// Metrics
	registry := metrics.New()
	loopMetrics, err := actionloop.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering loop metrics: %w", err)
	}
	screenMetrics, err := screen.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering screen metrics: %w", err)
	}

	// MQTT: required for the gateway backend, optional otherwise.
	topics := mqtt.Topics{Prefix: cfg.Control.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	switch {
	case err == nil:
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", cfg.Control.TopicPrefix,
		)
		mqttClient.AddConnectionListener(func(connected bool) {
			log.Info("MQTT connection changed", "connected", connected)
		})
	case cfg.Control.Backend == config.BackendMQTT:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		log.Warn("MQTT unavailable, screen events will not be published", "error", err)
		mqttClient = nil
	}

	// Control system
	var client controlsys.Client
	switch cfg.Control.Backend {
	case config.BackendMemory:
		mem, simErr := newSimulator(ctx, catalog, cfg.Screen.UpstreamDeviceType)
		if simErr != nil {
			return fmt.Errorf("starting simulator: %w", simErr)
		}
		client = mem
		log.Warn("using in-memory control system simulator")
	default:
		client = controlsys.NewMQTTClient(mqttClient)
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case err == nil:
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
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influxClient = nil
	default:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	// Event fan-out
	dispatcher := events.NewDispatcher(log.Component("events"), events.LogSink{Logger: log.Component("screen")})
	if mqttClient != nil {
		mqttSink := events.NewMQTTSink(mqttClient, log.Component("events"), events.DefaultMQTTBuffer)
		dispatcher.AddSink(mqttSink)
		defer mqttSink.Close()
	}
	if influxClient != nil {
		dispatcher.AddSink(events.InfluxSink{Writer: influxClient})
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"), audit.DefaultBuffer)
	dispatcher.AddSink(recorder)
	defer func() {
		log.Info("flushing audit log")
		recorder.Close()
	}()

	manager := screen.NewManager(catalog, client, dispatcher.Handler, screen.Config{
		BeamPath:           cfg.Screen.DefaultBeamPath,
		UpstreamTimeout:    cfg.Screen.UpstreamTimeout,
		UpstreamDeviceType: cfg.Screen.UpstreamDeviceType,
		AccessorTimeout:    cfg.Control.AccessorTimeout,
	}, screen.Options{
		Logger:      log.Component("screen"),
		Metrics:     screenMetrics,
		LoopMetrics: loopMetrics,
	})
	defer func() {
		log.Info("closing screens")
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := manager.CloseAll(closeCtx); closeErr != nil {
			log.Error("error closing screens", "error", closeErr)
		}
	}()

	// API
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log.Component("api"),
		Catalog:  catalog,
		Screens:  manager,
		Events:   dispatcher,
		Registry: registry,
		DB:       db,
		Audit:    auditRepo,
		Recorder: recorder,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	dispatcher.AddSink(server.Hub())
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, screens, audit log, InfluxDB, MQTT, database.

	log.Info("Beamline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BEAMLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BEAMLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedCatalog loads a seed file and upserts its devices.
func seedCatalog(ctx context.Context, store devicedb.Store, path string) (int, error) {
	seed, err := devicedb.LoadSeed(path)
	if err != nil {
		return 0, err
	}
	return seed.Apply(ctx, store)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil in memory mode)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
