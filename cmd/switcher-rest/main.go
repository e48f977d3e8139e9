// Switcher REST - HTTP facade for Switcher smart switches
//
// This is the main entry point for the switcher-rest service. It exposes a
// small JSON API (status, on/off, breeze control, discovery) and forwards
// every call to a device adapter:
//   - bridge: an MQTT request/response bridge that owns the device protocol
//   - simulated: in-memory devices for development and tests
//
// Nothing about a device is cached between requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iyuvalk/switcher-breeze-rest/internal/api"
	"github.com/iyuvalk/switcher-breeze-rest/internal/bridge"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/broker"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/database"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/influxdb"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/mqtt"
	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
	"github.com/iyuvalk/switcher-breeze-rest/internal/process"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
	"github.com/iyuvalk/switcher-breeze-rest/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the environment variable holding the config file path.
const configEnv = "SWITCHER_CONFIG"

func main() {
	// Cancel on Ctrl+C and SIGTERM (docker stop)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// serveOptions are the command-line overrides for the serve command.
type serveOptions struct {
	configPath     string
	port           int
	simulateBridge bool
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.port != 0 {
		cfg.API.Port = opts.port
	}
	if opts.simulateBridge {
		cfg.Switcher.SimulateBridge = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating overrides: %w", err)
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts serveOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting switcher-rest",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	checks := make(map[string]api.HealthChecker)
	topics := mqtt.NewTopics(cfg.Switcher.TopicPrefix)

	// Embedded MQTT broker (optional)
	if cfg.MQTT.EmbeddedBroker.Enabled {
		b, brokerErr := broker.Start(cfg.MQTT.EmbeddedBroker, cfg.MQTT.Auth, log)
		if brokerErr != nil {
			return fmt.Errorf("starting embedded broker: %w", brokerErr)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

	// Device adapter
	var (
		adapter    switcher.Adapter
		mqttClient *mqtt.Client
	)
	switch cfg.Switcher.Adapter {
	case config.AdapterSimulated:
		sim, simErr := switcher.NewSimulator(cfg.Switcher.Devices)
		if simErr != nil {
			return fmt.Errorf("creating simulator: %w", simErr)
		}
		adapter = sim
		log.Info("using simulated devices", "devices", len(cfg.Switcher.Devices))

	default:
		mqttClient, err = connectMQTT(cfg, topics, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks["mqtt"] = mqttClient

		bridgeOpts := bridge.Options{
			Topics:  topics,
			QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
			Timeout: cfg.GetRequestTimeout(),
			Logger:  log,
		}

		// Protocol bridge as a supervised child (optional)
		if cfg.Switcher.BridgeProcess.Command != "" {
			sup := process.New(process.FromConfig(cfg.Switcher.BridgeProcess), log)
			if startErr := sup.Start(ctx); startErr != nil {
				return fmt.Errorf("starting bridge process: %w", startErr)
			}
			defer sup.Stop()
			checks["bridge_process"] = sup
		}

		// In-process bridge answering from simulated devices
		if cfg.Switcher.SimulateBridge {
			sim, simErr := switcher.NewSimulator(cfg.Switcher.Devices)
			if simErr != nil {
				return fmt.Errorf("creating simulator: %w", simErr)
			}
			responder := bridge.NewResponder(mqttClient, sim, bridgeOpts)
			if startErr := responder.Start(); startErr != nil {
				return fmt.Errorf("starting bridge responder: %w", startErr)
			}
			defer responder.Stop()
		}

		client := bridge.NewClient(mqttClient, bridgeOpts)
		if startErr := client.Start(); startErr != nil {
			return fmt.Errorf("starting bridge client: %w", startErr)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing bridge client", "error", closeErr)
			}
		}()
		adapter = client
	}

	// Command journal (optional)
	var journalWriter *journal.Writer
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.FromConfig(cfg.Database))
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)
		checks["database"] = db

		journalWriter = journal.NewWriter(journal.NewSQLiteRepository(db.DB), cfg.GetRetention(), log)
		journalWriter.Start(ctx)
		// Stopped before the database closes (defers run LIFO)
		defer journalWriter.Stop()
	} else {
		log.Info("command journal disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	deps := api.Deps{
		Config:          cfg.API,
		WS:              cfg.WebSocket,
		Security:        cfg.Security,
		Logger:          log,
		Adapter:         adapter,
		Journal:         journalWriter,
		Telemetry:       influxClient,
		Topics:          topics,
		Checks:          checks,
		DiscoveryWindow: cfg.GetDiscoveryWindow(),
		BreezeHost:      cfg.Switcher.BreezeHost,
		Version:         version,
	}
	if mqttClient != nil {
		deps.Events = mqttClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("switcher-rest ready",
		"address", server.Addr(),
		"adapter", adapter.Name(),
		"auth", cfg.Security.Auth.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// connectMQTT opens the broker session. A broker that is down is logged,
// not fatal.
func connectMQTT(cfg *config.Config, topics mqtt.Topics, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT, topics, log.With("component", "mqtt"))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	if !client.IsConnected() {
		log.Warn("starting without a broker session, device requests answer 502 until it connects",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	}
	return client, nil
}
