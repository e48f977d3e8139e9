package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Adapter names accepted in switcher.adapter.
const (
	AdapterBridge    = "bridge"
	AdapterSimulated = "simulated"
)

// Config is the root configuration structure for the Switcher REST service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Switcher  SwitcherConfig  `yaml:"switcher"`
	Security  SecurityConfig  `yaml:"security"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
//
// Write must outlast switcher.discovery_window, otherwise the scan endpoints
// are cut off before the first announcement arrives.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the /events stream.
type WebSocketConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxMessageSize int  `yaml:"max_message_size"`
	PingInterval   int  `yaml:"ping_interval"`
	PongTimeout    int  `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig     `yaml:"broker"`
	Auth           MQTTAuthConfig       `yaml:"auth"`
	QoS            int                  `yaml:"qos"`
	Reconnect      MQTTReconnectConfig  `yaml:"reconnect"`
	EmbeddedBroker EmbeddedBrokerConfig `yaml:"embedded_broker"`
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
}

// EmbeddedBrokerConfig runs an in-process MQTT broker so the facade and a
// protocol bridge can share one container without an external broker.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DatabaseConfig contains SQLite settings for the command journal.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SwitcherConfig selects and tunes the device control adapter.
type SwitcherConfig struct {
	// Adapter is "bridge" (MQTT protocol bridge) or "simulated" (in-memory devices).
	Adapter string `yaml:"adapter"`

	// TopicPrefix is the root of the bridge request/response topics.
	TopicPrefix string `yaml:"topic_prefix"`

	// RequestTimeout bounds every bridge round trip (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// DiscoveryWindow is how long a scan listens for announcements (seconds).
	DiscoveryWindow int `yaml:"discovery_window"`

	// BreezeHost is used for breeze control requests that carry no "ip".
	BreezeHost string `yaml:"breeze_host"`

	// SimulateBridge answers bridge requests in-process from Devices.
	// Only meaningful together with the bridge adapter.
	SimulateBridge bool `yaml:"simulate_bridge"`

	// BridgeProcess runs the protocol bridge as a supervised child process.
	// Only meaningful together with the bridge adapter.
	BridgeProcess BridgeProcessConfig `yaml:"bridge_process"`

	// Devices seeds the simulator.
	Devices []SimulatedDeviceConfig `yaml:"devices"`
}

// BridgeProcessConfig describes the bridge executable. An empty Command
// means the bridge is run elsewhere.
type BridgeProcessConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	Env          []string `yaml:"env"`
	RestartDelay int      `yaml:"restart_delay"`
	MaxRestarts  int      `yaml:"max_restarts"`
}

// SimulatedDeviceConfig describes one simulated switch.
type SimulatedDeviceConfig struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	Host        string  `yaml:"host"`
	Key         string  `yaml:"key"`
	State       string  `yaml:"state"`
	Temperature float64 `yaml:"temperature"`
	Unreachable bool    `yaml:"unreachable"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls bearer-token protection of the device routes.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	TokenTTL  int    `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SWITCHER_SECTION_KEY
// For example: SWITCHER_API_PORT, SWITCHER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the values the container ships with.
func Default() *Config {
	return &Config{
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
			Enabled:        true,
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "switcher-rest",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			EmbeddedBroker: EmbeddedBrokerConfig{
				Address: ":1883",
			},
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/switcher.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
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
		Switcher: SwitcherConfig{
			Adapter:         AdapterBridge,
			TopicPrefix:     "switcher",
			RequestTimeout:  15,
			DiscoveryWindow: 10,
			BreezeHost:      "switcher-breeze",
		},
		Security: SecurityConfig{
			Auth: AuthConfig{
				Issuer:   "switcher-rest",
				TokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SWITCHER_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// API
	if v := os.Getenv("SWITCHER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SWITCHER_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SWITCHER_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// MQTT
	if v := os.Getenv("SWITCHER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SWITCHER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SWITCHER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("SWITCHER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SWITCHER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Switcher
	if v := os.Getenv("SWITCHER_ADAPTER"); v != "" {
		cfg.Switcher.Adapter = v
	}
	if v := os.Getenv("SWITCHER_BREEZE_HOST"); v != "" {
		cfg.Switcher.BreezeHost = v
	}

	// Security
	if v := os.Getenv("SWITCHER_JWT_SECRET"); v != "" {
		cfg.Security.Auth.JWTSecret = v
	}

	return nil
}

// minJWTSecretLength is the shortest HS256 secret accepted when auth is enabled.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Switcher
	switch c.Switcher.Adapter {
	case AdapterBridge, AdapterSimulated:
	default:
		errs = append(errs, fmt.Sprintf("switcher.adapter must be %q or %q", AdapterBridge, AdapterSimulated))
	}
	if c.Switcher.TopicPrefix == "" || strings.ContainsAny(c.Switcher.TopicPrefix, "+#") {
		errs = append(errs, "switcher.topic_prefix must be a non-empty topic without wildcards")
	}
	if c.Switcher.RequestTimeout <= 0 {
		errs = append(errs, "switcher.request_timeout must be positive")
	}
	if c.Switcher.DiscoveryWindow <= 0 {
		errs = append(errs, "switcher.discovery_window must be positive")
	}
	if c.Switcher.BreezeHost == "" {
		errs = append(errs, "switcher.breeze_host is required")
	}
	if c.Switcher.BridgeProcess.Command != "" {
		if c.Switcher.Adapter != AdapterBridge {
			errs = append(errs, "switcher.bridge_process requires the bridge adapter")
		}
		if c.Switcher.BridgeProcess.RestartDelay < 0 || c.Switcher.BridgeProcess.MaxRestarts < 0 {
			errs = append(errs, "switcher.bridge_process restart_delay and max_restarts must not be negative")
		}
	}
	for i, d := range c.Switcher.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("switcher.devices[%d].id is required", i))
		}
	}

	// Security
	if c.Security.Auth.Enabled {
		if c.Security.Auth.JWTSecret == "" {
			errs = append(errs, "security.auth.jwt_secret is required when auth is enabled (set SWITCHER_JWT_SECRET)")
		} else if len(c.Security.Auth.JWTSecret) < minJWTSecretLength {
			errs = append(errs, "security.auth.jwt_secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Addr returns the host:port the HTTP listener binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// GetRequestTimeout returns the bridge round-trip deadline as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Switcher.RequestTimeout) * time.Second
}

// GetDiscoveryWindow returns the scan window as a Duration.
func (c *Config) GetDiscoveryWindow() time.Duration {
	return time.Duration(c.Switcher.DiscoveryWindow) * time.Second
}

// GetRetention returns how long journal entries are kept. Zero disables pruning.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
