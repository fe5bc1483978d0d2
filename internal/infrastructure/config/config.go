package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for HomeNet.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices   DevicesConfig   `yaml:"devices"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	ZWave     ZWaveConfig     `yaml:"zwave"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DevicesConfig contains device database settings.
type DevicesConfig struct {
	File             string `yaml:"file"`
	AutosaveInterval int    `yaml:"autosave_interval"` // seconds
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ZWaveConfig contains Z-Wave gateway bridge settings.
type ZWaveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
	// PollClasses lists command classes to enable polling for on node ready.
	PollClasses []int `yaml:"poll_classes"`
}

// DatabaseConfig contains SQLite audit database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT   JWTConfig   `yaml:"jwt"`
	Admin AdminConfig `yaml:"admin"`
}

// JWTConfig contains JWT token settings. An empty secret disables
// authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// AdminConfig holds the single administrator credential.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // Argon2id PHC string
}

// AuthEnabled reports whether API authentication is configured.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped if the file does not exist
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMENET_SECTION_KEY
// For example: HOMENET_DEVICES_FILE, HOMENET_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			File:             "devices.json",
			AutosaveInterval: 60,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
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
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homenet-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		ZWave: ZWaveConfig{
			Enabled:     false,
			TopicPrefix: "zwave",
			PollClasses: []int{0x25, 0x26},
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/homenet.db",
			WALMode:     true,
			BusyTimeout: 5,
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
			Admin: AdminConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMENET_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	envInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	envBool := func(name string, dst *bool) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// Devices
	envString("HOMENET_DEVICES_FILE", &cfg.Devices.File)
	envInt("HOMENET_DEVICES_AUTOSAVE_INTERVAL", &cfg.Devices.AutosaveInterval)

	// API
	envString("HOMENET_API_HOST", &cfg.API.Host)
	envInt("HOMENET_API_PORT", &cfg.API.Port)

	// MQTT
	envString("HOMENET_MQTT_HOST", &cfg.MQTT.Broker.Host)
	envInt("HOMENET_MQTT_PORT", &cfg.MQTT.Broker.Port)
	envString("HOMENET_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	envString("HOMENET_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// Z-Wave
	envBool("HOMENET_ZWAVE_ENABLED", &cfg.ZWave.Enabled)
	envString("HOMENET_ZWAVE_TOPIC_PREFIX", &cfg.ZWave.TopicPrefix)

	// Database
	envBool("HOMENET_DATABASE_ENABLED", &cfg.Database.Enabled)
	envString("HOMENET_DATABASE_PATH", &cfg.Database.Path)

	// InfluxDB
	envBool("HOMENET_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	envString("HOMENET_INFLUXDB_URL", &cfg.InfluxDB.URL)
	envString("HOMENET_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	envString("HOMENET_LOG_LEVEL", &cfg.Logging.Level)
	envString("HOMENET_LOG_FORMAT", &cfg.Logging.Format)

	// Security
	envString("HOMENET_JWT_SECRET", &cfg.Security.JWT.Secret)
	envString("HOMENET_ADMIN_USERNAME", &cfg.Security.Admin.Username)
	envString("HOMENET_ADMIN_PASSWORD_HASH", &cfg.Security.Admin.PasswordHash)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Devices
	if c.Devices.File == "" {
		errs = append(errs, "devices.file is required")
	}
	if c.Devices.AutosaveInterval < 1 {
		errs = append(errs, "devices.autosave_interval must be at least 1 second")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Z-Wave
	if c.ZWave.Enabled {
		if c.ZWave.TopicPrefix == "" || strings.ContainsAny(c.ZWave.TopicPrefix, "+#") {
			errs = append(errs, "zwave.topic_prefix must be set and must not contain wildcards")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when zwave is enabled")
		}
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Security. The secret is optional, but a weak one would let anyone
	// forge tokens.
	const minJWTSecretLength = 32
	if c.AuthEnabled() {
		if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
		if c.Security.Admin.Username == "" || c.Security.Admin.PasswordHash == "" {
			errs = append(errs, "security.admin.username and security.admin.password_hash are required when authentication is enabled")
		}
		if c.Security.JWT.AccessTokenTTL < 1 {
			errs = append(errs, "security.jwt.access_token_ttl must be at least 1 minute")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetAutosaveInterval returns the device autosave interval as a Duration.
func (c *Config) GetAutosaveInterval() time.Duration {
	return time.Duration(c.Devices.AutosaveInterval) * time.Second
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

// GetAccessTokenTTL returns the JWT access token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}
