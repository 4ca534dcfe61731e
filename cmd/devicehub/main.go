// DeviceHub Core - device registry and synchronisation service
//
// This is the main entry point. It wires the device registry, plugin
// manager, sync engine, MQTT discovery and HTTP API together and runs
// until SIGINT or SIGTERM.
//
// "devicehub token -subject name" prints an API bearer token and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/devicehub-core/internal/api"
	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/discovery"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/store"
	"github.com/nerrad567/devicehub-core/internal/plugin"
	"github.com/nerrad567/devicehub-core/internal/plugin/builtin"
	"github.com/nerrad567/devicehub-core/internal/syncer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// pluginHTTPTimeout caps any single outbound request made by plugins.
	pluginHTTPTimeout = 30 * time.Second

	// finalFlushTimeout bounds the registry flush on shutdown.
	finalFlushTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown.
//
// Shutdown runs through the deferred calls in reverse order of start-up:
// API server, sync driver (waits for a running pass), discovery, plugins,
// InfluxDB, MQTT, final registry flush, storage.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting DeviceHub Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"service_id", cfg.Service.ID,
		"level", cfg.Logging.Level,
	)

	// Storage and registry
	backend, err := store.Open(ctx, cfg.Storage, log.Component("store"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		log.Info("closing storage")
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing storage", "error", closeErr)
		}
	}()

	registry := device.NewRegistry(device.Options{
		Store:       backend,
		Payloads:    backend,
		Logger:      log.Component("registry"),
		HistorySize: cfg.Sync.HistorySize,
	})
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		if flushErr := registry.Flush(flushCtx); flushErr != nil {
			log.Error("final registry flush failed", "error", flushErr)
			return
		}
		log.Info("registry flushed", "devices", registry.GetDeviceCount())
	}()
	log.Info("device registry initialised",
		"backend", cfg.Storage.Backend,
		"devices", registry.GetDeviceCount(),
	)

	checks := make(map[string]api.HealthChecker)
	if hc, ok := backend.(api.HealthChecker); ok {
		checks["storage"] = hc
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Plugins
	deps := plugin.Deps{
		Logger:     log.Component("plugins"),
		HTTPClient: &http.Client{Timeout: pluginHTTPTimeout},
	}
	if mqttClient != nil {
		deps.Publisher = mqttClient
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}

	catalog := plugin.NewCatalog()
	builtin.Register(catalog)

	plugins := plugin.NewManager(plugin.Options{
		Catalog:     catalog,
		Deps:        deps,
		Devices:     registry,
		HookTimeout: cfg.GetHookTimeout(),
		Concurrency: cfg.Plugins.Concurrency,
		Logger:      log.Component("plugins"),
	})
	defer func() {
		if closeErr := plugins.Close(); closeErr != nil {
			log.Error("error closing plugins", "error", closeErr)
		}
	}()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	if err := plugins.Attach(ctx, hub.Plugin()); err != nil {
		return fmt.Errorf("attaching websocket hub: %w", err)
	}
	loaded, loadErrs := plugins.Load(ctx, cfg.Plugins.Directory)
	log.Info("plugins ready",
		"directory", cfg.Plugins.Directory,
		"loaded", loaded,
		"failed", len(loadErrs),
		"kinds", catalog.Kinds(),
	)
	registry.SetNotifier(plugins)

	// Sync engine
	engine := syncer.New(syncer.Options{
		Registry:    registry,
		Hooks:       plugins,
		Interval:    cfg.GetSyncInterval(),
		SkipWindow:  cfg.GetSkipWindow(),
		Concurrency: cfg.Sync.Concurrency,
		Logger:      log.Component("syncer"),
	})

	// Discovery (needs MQTT)
	if mqttClient != nil {
		disc := discovery.New(registry, mqttClient, byte(cfg.MQTT.QoS), log.Component("discovery"))
		if err := disc.Start(ctx); err != nil {
			return fmt.Errorf("starting discovery: %w", err)
		}
		defer disc.Stop()
	}

	if cfg.Sync.Enabled {
		if err := engine.Start(ctx); err != nil && !errors.Is(err, syncer.ErrAlreadyRunning) {
			return fmt.Errorf("starting sync driver: %w", err)
		}
		defer engine.Stop()
	} else {
		log.Info("periodic sync disabled")
	}

	// API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Registry: registry,
		Syncer:   engine,
		Plugins:  plugins,
		Hub:      hub,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr().String())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// issueToken implements "devicehub token [-subject name]": it prints an API
// bearer token signed with the configured secret.
func issueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "operator", "token subject")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, *subject, cfg.GetAccessTokenTTL())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// getConfigPath returns the configuration file path.
// Uses DEVICEHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVICEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
