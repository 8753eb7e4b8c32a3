package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration of the link daemon.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Control   ControlConfig   `yaml:"control"`
	Actions   ActionsConfig   `yaml:"actions"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// LinkConfig selects and tunes the device transport.
type LinkConfig struct {
	ID           string        `yaml:"id"`  // Name used in telemetry and audit
	URL          string        `yaml:"url"` // serial:///dev/ttyUSB0, tcp://host:port, mqtt://broker:1883
	BaudRate     int           `yaml:"baudRate"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	MQTTTopic    string        `yaml:"mqttTopic"`
	MQTTClientID string        `yaml:"mqttClientId"`
	MQTTUsername string        `yaml:"mqttUsername"`
	MQTTPassword string        `yaml:"mqttPassword"`
}

// ControlConfig holds control loop settings. A zero frequency keeps the
// monitor default.
type ControlConfig struct {
	Enabled     bool    `yaml:"enabled"`
	FrequencyHz float64 `yaml:"frequencyHz"`
}

// ActionsConfig holds action timing and retry settings.
type ActionsConfig struct {
	ResponseTimeout time.Duration `yaml:"responseTimeout"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	MaxRetries      int           `yaml:"maxRetries"`
	StartPolicy     string        `yaml:"startPolicy"` // reject | restart
	ConnectOnStart  bool          `yaml:"connectOnStart"`
}

// MonitorConfig sizes the dispatch queue and event history.
type MonitorConfig struct {
	QueueSize       int `yaml:"queueSize"`
	UavEventHistory int `yaml:"uavEventHistory"`
}

// APIConfig holds HTTP server and auth settings.
type APIConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	AuthDisabled     bool          `yaml:"authDisabled"`
	JWTSecret        string        `yaml:"jwtSecret"`
	JWTPublicKeyFile string        `yaml:"jwtPublicKeyFile"`
}

// LoggingConfig holds logger settings. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// StoreConfig locates the calibration database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig holds hub buffering and heartbeat settings.
type TelemetryConfig struct {
	EventBufferSize   int           `yaml:"eventBufferSize"`
	ClientBufferSize  int           `yaml:"clientBufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// MCPConfig enables the operator tool server on stdio.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load builds the configuration from defaults, the YAML file at path (or
// SKYDIVE_CONFIG when path is empty) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SKYDIVE_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			ID:          "uav-0",
			URL:         "serial:///dev/ttyUSB0",
			BaudRate:    115200,
			DialTimeout: 5 * time.Second,
			MQTTTopic:   "skydive/uav-0",
		},
		Control: ControlConfig{
			Enabled:     true,
			FrequencyHz: 0,
		},
		Actions: ActionsConfig{
			ResponseTimeout: 500 * time.Millisecond,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			StartPolicy:     "reject",
			ConnectOnStart:  true,
		},
		Monitor: MonitorConfig{
			QueueSize:       128,
			UavEventHistory: 64,
		},
		API: APIConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  20,
			MaxBackups: 10,
		},
		Store: StoreConfig{
			Path: "skydive.db",
		},
		Telemetry: TelemetryConfig{
			EventBufferSize:   50,
			ClientBufferSize:  100,
			HeartbeatInterval: 15 * time.Second,
		},
	}
}

// loadFromFile merges a YAML file over cfg.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}
