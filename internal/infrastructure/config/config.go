package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Multigate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway       GatewayConfig              `yaml:"gateway"`
	Database      DatabaseConfig             `yaml:"database"`
	MQTT          MQTTConfig                 `yaml:"mqtt"`
	API           APIConfig                  `yaml:"api"`
	WebSocket     WebSocketConfig            `yaml:"websocket"`
	InfluxDB      InfluxDBConfig             `yaml:"influxdb"`
	Logging       LoggingConfig              `yaml:"logging"`
	CommandTables map[string][]CommandConfig `yaml:"command_tables"`
	Devices       []DeviceConfig             `yaml:"devices"`
	Items         []ItemConfig               `yaml:"items"`
}

// GatewayConfig contains dispatcher timing settings.
type GatewayConfig struct {
	// CycleTickSeconds is the cycle scheduler resolution in seconds.
	CycleTickSeconds int `yaml:"cycle_tick"`

	// RequestTimeoutSeconds is the default read timeout in seconds for
	// commands without their own timeout.
	RequestTimeoutSeconds int `yaml:"request_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// CommandConfig describes one command within a command table.
type CommandConfig struct {
	Name     string   `yaml:"name"`
	Opcode   string   `yaml:"opcode"`
	Read     bool     `yaml:"read"`
	Write    bool     `yaml:"write"`
	ReadCmd  string   `yaml:"read_cmd"`
	WriteCmd string   `yaml:"write_cmd"`
	Type     string   `yaml:"type"`
	ItemPath []string `yaml:"item_path"`
	Mult     float64  `yaml:"mult"`
	Div      float64  `yaml:"div"`

	// TimeoutSeconds overrides the gateway request timeout for this command.
	TimeoutSeconds int `yaml:"timeout"`
}

// DeviceConfig describes one physical device.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Table   string `yaml:"table"`
	Address string `yaml:"address"`

	// Terminator frames messages on the device link. Default: "\r\n".
	Terminator string `yaml:"terminator"`

	// Params are substituted into $P:key: request template placeholders.
	Params map[string]any `yaml:"params"`

	// TimeoutSeconds overrides the gateway request timeout for this device.
	TimeoutSeconds int `yaml:"timeout"`
}

// ItemConfig binds one host item to a device command.
type ItemConfig struct {
	Item        string `yaml:"item"`
	Device      string `yaml:"device"`
	Command     string `yaml:"command"`
	Read        bool   `yaml:"read"`
	Write       bool   `yaml:"write"`
	ReadInitial bool   `yaml:"read_initial"`
	ReadAll     bool   `yaml:"read_all"`

	// CycleSeconds requests periodic reads. Zero disables.
	CycleSeconds int `yaml:"cycle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MULTIGATE_SECTION_KEY
// For example: MULTIGATE_DATABASE_PATH, MULTIGATE_MQTT_HOST
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
		Gateway: GatewayConfig{
			CycleTickSeconds:      1,
			RequestTimeoutSeconds: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/multigate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "multigate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MULTIGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MULTIGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MULTIGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MULTIGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MULTIGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MULTIGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MULTIGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for structural errors.
//
// Cross-references that need full command semantics (capability flags,
// template validity, writer uniqueness) are checked where the command
// tables and the binding registry are built; Validate catches what can be
// caught by looking at the file alone.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.CycleTickSeconds < 1 {
		errs = append(errs, "gateway.cycle_tick must be at least 1 second")
	}
	if c.Gateway.RequestTimeoutSeconds < 1 {
		errs = append(errs, "gateway.request_timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Device validation
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("device %q: address is required", d.ID))
		}
		if d.Table == "" {
			errs = append(errs, fmt.Sprintf("device %q: table is required", d.ID))
		} else if _, ok := c.CommandTables[d.Table]; !ok {
			errs = append(errs, fmt.Sprintf("device %q: unknown command table %q", d.ID, d.Table))
		}
	}

	// Item validation
	for i, it := range c.Items {
		if it.Item == "" {
			errs = append(errs, fmt.Sprintf("items[%d].item is required", i))
			continue
		}
		if it.Device == "" {
			errs = append(errs, fmt.Sprintf("item %q: device is required", it.Item))
		} else if !seen[it.Device] {
			errs = append(errs, fmt.Sprintf("item %q: unknown device %q", it.Item, it.Device))
		}
		if !it.ReadAll && it.Command == "" {
			errs = append(errs, fmt.Sprintf("item %q: command is required unless read_all is set", it.Item))
		}
		if it.CycleSeconds < 0 {
			errs = append(errs, fmt.Sprintf("item %q: cycle must not be negative", it.Item))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CycleTick returns the cycle scheduler resolution as a Duration.
func (c *Config) CycleTick() time.Duration {
	return time.Duration(c.Gateway.CycleTickSeconds) * time.Second
}

// RequestTimeout returns the default read timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSeconds) * time.Second
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
