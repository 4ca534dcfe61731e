package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of configs/config.yaml. Load fills it from defaults,
// the file and DEVICEHUB_* environment variables, in that order.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Storage   StorageConfig   `yaml:"storage"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Sync      SyncConfig      `yaml:"sync"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig identifies this DeviceHub instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "json" (default) or "sqlite".
	Backend string `yaml:"backend"`

	// DataDir holds devices.json and the per-device sync side files.
	DataDir string `yaml:"data_dir"`

	// Database is used when Backend is "sqlite".
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig configures the SQLite file behind the sqlite backend.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PluginsConfig contains plugin discovery settings.
type PluginsConfig struct {
	// Directory is scanned for *.yaml plugin manifests.
	Directory string `yaml:"directory"`

	// HookTimeout bounds every plugin hook invocation (seconds).
	HookTimeout int `yaml:"hook_timeout"`

	// Concurrency bounds lifecycle hook fan-out across plugins.
	Concurrency int `yaml:"concurrency"`
}

// SyncConfig contains synchronization engine settings.
type SyncConfig struct {
	// Enabled starts the periodic driver at boot.
	Enabled bool `yaml:"enabled"`

	// Interval is the periodic driver interval (seconds).
	Interval int `yaml:"interval"`

	// SkipWindow is how recent a last_sync must be for a non-forced sync
	// to be reported as not needed (seconds). 0 means "same as Interval".
	SkipWindow int `yaml:"skip_window"`

	// Concurrency bounds how many devices sync at once in a full pass.
	Concurrency int `yaml:"concurrency"`

	// HistorySize is the number of recent sync records kept per device.
	HistorySize int `yaml:"history_size"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds http.Server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists the origins, methods and headers the API allows.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APIAuthConfig toggles bearer-token authentication on the API.
type APIAuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebSocketConfig tunes the /api/v1/ws event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig enables the broker used for discovery and event publishing.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Prefer the env overrides.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the client's reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig enables sync telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig is consumed by logging.New.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds signing material.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig configures HS256 bearer tokens.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
//
// Environment variables follow the pattern: DEVICEHUB_SECTION_KEY
// For example: DEVICEHUB_STORAGE_DATA_DIR, DEVICEHUB_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no config file exists yet.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "devicehub-001",
			Name: "DeviceHub",
		},
		Storage: StorageConfig{
			Backend: "json",
			DataDir: "./data",
			Database: DatabaseConfig{
				Path:        "./data/devicehub.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		Plugins: PluginsConfig{
			Directory:   "./plugins",
			HookTimeout: 5,
			Concurrency: 4,
		},
		Sync: SyncConfig{
			Enabled:     true,
			Interval:    300,
			Concurrency: 4,
			HistorySize: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devicehub-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides reads DEVICEHUB_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) {
	// Storage
	if v := os.Getenv("DEVICEHUB_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DEVICEHUB_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("DEVICEHUB_DATABASE_PATH"); v != "" {
		cfg.Storage.Database.Path = v
	}

	// Plugins
	if v := os.Getenv("DEVICEHUB_PLUGINS_DIRECTORY"); v != "" {
		cfg.Plugins.Directory = v
	}

	// Sync
	if v := os.Getenv("DEVICEHUB_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Interval = n
		}
	}

	// API
	if v := os.Getenv("DEVICEHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEVICEHUB_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// MQTT
	if v := os.Getenv("DEVICEHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICEHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICEHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DEVICEHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("DEVICEHUB_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// minJWTSecretLength is the shortest HS256 secret accepted when API auth is on.
const minJWTSecretLength = 32

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	switch c.Storage.Backend {
	case "json":
		if c.Storage.DataDir == "" {
			errs = append(errs, "storage.data_dir is required")
		}
	case "sqlite":
		if c.Storage.Database.Path == "" {
			errs = append(errs, "storage.database.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be json or sqlite, got %q", c.Storage.Backend))
	}

	if c.Plugins.HookTimeout <= 0 {
		errs = append(errs, "plugins.hook_timeout must be positive")
	}

	if c.Sync.Interval <= 0 {
		errs = append(errs, "sync.interval must be positive")
	}
	if c.Sync.SkipWindow < 0 {
		errs = append(errs, "sync.skip_window must not be negative")
	}
	if c.Sync.Concurrency <= 0 {
		errs = append(errs, "sync.concurrency must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Auth.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.auth is enabled (set DEVICEHUB_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHookTimeout returns the per-hook plugin timeout.
func (c *Config) GetHookTimeout() time.Duration {
	return time.Duration(c.Plugins.HookTimeout) * time.Second
}

// GetSyncInterval returns the periodic driver interval.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

// GetSkipWindow returns the non-forced sync skip threshold.
// It falls back to the driver interval when unset.
func (c *Config) GetSkipWindow() time.Duration {
	if c.Sync.SkipWindow == 0 {
		return c.GetSyncInterval()
	}
	return time.Duration(c.Sync.SkipWindow) * time.Second
}

// GetReadTimeout returns api.timeouts.read.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns api.timeouts.write.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns api.timeouts.idle.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetAccessTokenTTL returns security.jwt.access_token_ttl, in minutes.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}
