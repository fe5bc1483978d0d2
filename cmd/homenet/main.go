// HomeNet Core - device registry and Z-Wave value API.
//
// HomeNet keeps the list of named devices in a JSON document, mirrors the
// node table of a Z-Wave MQTT gateway and serves both over HTTP and
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eblock12/HomeNet/internal/api"
	"github.com/eblock12/HomeNet/internal/audit"
	"github.com/eblock12/HomeNet/internal/auth"
	"github.com/eblock12/HomeNet/internal/bridges/zwave"
	"github.com/eblock12/HomeNet/internal/device"
	"github.com/eblock12/HomeNet/internal/infrastructure/config"
	"github.com/eblock12/HomeNet/internal/infrastructure/database"
	"github.com/eblock12/HomeNet/internal/infrastructure/influxdb"
	"github.com/eblock12/HomeNet/internal/infrastructure/logging"
	"github.com/eblock12/HomeNet/internal/infrastructure/metrics"
	"github.com/eblock12/HomeNet/internal/infrastructure/mqtt"
	"github.com/eblock12/HomeNet/migrations"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// shutdownSaveTimeout bounds the final save of the device database.
const shutdownSaveTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component, blocks until ctx is cancelled and then shuts
// down in order: API server, Z-Wave bridge, final save of the device
// database, then the infrastructure clients.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting HomeNet", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Audit database (optional)
	var db *database.DB
	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("audit database disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New()

	// Device database
	store := device.NewStore(device.Options{
		Backend:          device.NewFileBackend(cfg.Devices.File),
		AutosaveInterval: cfg.GetAutosaveInterval(),
		Logger:           log,
	})
	store.SetOnSave(func(r device.SaveResult) {
		m.ObserveSave(r)
		if influxClient != nil {
			influxClient.WriteStoreSave(r.Devices, r.Bytes, r.Duration, r.Err == nil)
		}
	})
	m.RegisterStore(store)
	store.Start(ctx)
	defer func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), shutdownSaveTimeout)
		defer cancel()
		log.Info("saving devices database")
		if flushErr := store.Flush(saveCtx); flushErr != nil {
			log.Error("final save of devices database failed", "error", flushErr)
		}
		store.Close()
	}()

	// MQTT and the Z-Wave bridge (optional)
	var mqttClient *mqtt.Client
	var bridge *zwave.Bridge
	if cfg.ZWave.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, err = zwave.New(zwave.Options{
			MQTT:        mqttClient,
			TopicPrefix: cfg.ZWave.TopicPrefix,
			PollClasses: cfg.ZWave.PollClasses,
			QoS:         mqttClient.QoS(),
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("creating Z-Wave bridge: %w", err)
		}
	} else {
		log.Info("Z-Wave bridge disabled")
	}

	// Authentication (optional)
	var authn *auth.Authenticator
	if cfg.AuthEnabled() {
		authn = auth.NewAuthenticator(
			cfg.Security.Admin.Username,
			cfg.Security.Admin.PasswordHash,
			cfg.Security.JWT.Secret,
			cfg.GetAccessTokenTTL(),
		)
		log.Info("API authentication enabled", "username", cfg.Security.Admin.Username)
	} else {
		log.Warn("API authentication disabled")
	}

	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Store:   store,
		MQTT:    mqttClient,
		Auth:    authn,
		Audit:   auditRepo,
		Metrics: m,
		Version: version,
	}
	if bridge != nil {
		deps.Driver = bridge
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if bridge != nil {
		bridge.OnValueChange(func(c zwave.ValueChange) {
			srv.BroadcastValueChange(c)
			m.ObserveValueChange()
			if influxClient != nil {
				influxClient.WriteNodeValue(int(c.Node), c.CommandClass, c.Label, c.Value, c.At)
			}
		})
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting Z-Wave bridge: %w", err)
		}
		defer func() {
			log.Info("stopping Z-Wave bridge")
			bridge.Stop()
		}()
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, bridge, MQTT, final save,
	// InfluxDB, database.
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("HOMENET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the audit database and applies pending migrations.
// The caller closes it.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path, "migrations_applied", len(applied))
	return db, nil
}

// healthCheck verifies the enabled infrastructure connections. Nil
// clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
