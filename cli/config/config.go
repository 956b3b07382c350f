// Package config provides configuration management for the chronicle CLI.
//
// Settings are read from chronicle.yaml and then overridden by CHRONICLE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name
const ConfigFileName = "chronicle.yaml"

// Supported hot store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the chronicle CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Database  DatabaseConfig  `yaml:"database"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig configures the hot event and snapshot store.
type DatabaseConfig struct {
	// Driver is the hot store driver (postgres, memory)
	Driver string `yaml:"driver" env:"CHRONICLE_DATABASE_DRIVER"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty" env:"CHRONICLE_DATABASE_URL"`

	// Schema is the database schema to use
	Schema string `yaml:"schema" env:"CHRONICLE_DATABASE_SCHEMA"`

	MaxConnections int `yaml:"max_connections" env:"CHRONICLE_DATABASE_MAX_CONNECTIONS"`
}

// ArchiveConfig configures cold storage and archival policy.
type ArchiveConfig struct {
	// Path of the SQLite archive database
	Path string `yaml:"path" env:"CHRONICLE_ARCHIVE_PATH"`

	// MaxAge is the event age after which events are archived
	MaxAge time.Duration `yaml:"max_age" env:"CHRONICLE_ARCHIVE_MAX_AGE"`

	// SafetyMargin keeps events this much younger than the covering snapshot hot
	SafetyMargin time.Duration `yaml:"safety_margin" env:"CHRONICLE_ARCHIVE_SAFETY_MARGIN"`

	BatchSize      int           `yaml:"batch_size" env:"CHRONICLE_ARCHIVE_BATCH_SIZE"`
	KeepRecent     int           `yaml:"keep_recent" env:"CHRONICLE_ARCHIVE_KEEP_RECENT"`
	RollupInterval time.Duration `yaml:"rollup_interval" env:"CHRONICLE_ARCHIVE_ROLLUP_INTERVAL"`
}

// SnapshotConfig configures the snapshot policy.
type SnapshotConfig struct {
	MinEvents      int64         `yaml:"min_events" env:"CHRONICLE_SNAPSHOT_MIN_EVENTS"`
	EventThreshold int64         `yaml:"event_threshold" env:"CHRONICLE_SNAPSHOT_EVENT_THRESHOLD"`
	MaxAge         time.Duration `yaml:"max_age" env:"CHRONICLE_SNAPSHOT_MAX_AGE"`
	Retention      int           `yaml:"retention" env:"CHRONICLE_SNAPSHOT_RETENTION"`
	BatchSize      int           `yaml:"batch_size" env:"CHRONICLE_SNAPSHOT_BATCH_SIZE"`
	Workers        int           `yaml:"workers" env:"CHRONICLE_SNAPSHOT_WORKERS"`

	// Encoding selects the snapshot payload format: json or msgpack
	Encoding string `yaml:"encoding" env:"CHRONICLE_SNAPSHOT_ENCODING"`
}

// Snapshot payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// MonitorConfig configures the performance monitor.
type MonitorConfig struct {
	// ListenAddr serves /metrics while the monitor runs
	ListenAddr string `yaml:"listen_addr" env:"CHRONICLE_MONITOR_LISTEN_ADDR"`

	Interval      time.Duration `yaml:"interval" env:"CHRONICLE_MONITOR_INTERVAL"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"CHRONICLE_MONITOR_SLOW_THRESHOLD"`
	Window        int           `yaml:"window" env:"CHRONICLE_MONITOR_WINDOW"`

	// ArchiveEnabled runs archival on every maintenance tick
	ArchiveEnabled bool `yaml:"archive_enabled" env:"CHRONICLE_MONITOR_ARCHIVE_ENABLED"`
}

// NotifyConfig selects the maintenance notification targets. Empty values
// disable a target.
type NotifyConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty" env:"CHRONICLE_NOTIFY_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty" env:"CHRONICLE_NOTIFY_KAFKA_TOPIC"`
	SNSTopicARN  string   `yaml:"sns_topic_arn,omitempty" env:"CHRONICLE_NOTIFY_SNS_TOPIC_ARN"`
	WebhookURL   string   `yaml:"webhook_url,omitempty" env:"CHRONICLE_NOTIFY_WEBHOOK_URL"`
}

// TelemetryConfig configures logging and tracing.
type TelemetryConfig struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" env:"CHRONICLE_LOG_LEVEL"`

	// Trace writes spans to stderr
	Trace bool `yaml:"trace" env:"CHRONICLE_TRACE"`

	ServiceName string `yaml:"service_name" env:"CHRONICLE_SERVICE_NAME"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Driver:         DriverPostgres,
			Schema:         "chronicle",
			MaxConnections: 10,
		},
		Archive: ArchiveConfig{
			Path:           "chronicle-archive.db",
			MaxAge:         30 * 24 * time.Hour,
			SafetyMargin:   24 * time.Hour,
			BatchSize:      100,
			KeepRecent:     100,
			RollupInterval: 24 * time.Hour,
		},
		Snapshots: SnapshotConfig{
			MinEvents:      100,
			EventThreshold: 1000,
			MaxAge:         24 * time.Hour,
			Retention:      5,
			BatchSize:      50,
			Workers:        4,
			Encoding:       EncodingJSON,
		},
		Monitor: MonitorConfig{
			ListenAddr:    ":9090",
			Interval:      5 * time.Minute,
			SlowThreshold: 500 * time.Millisecond,
			Window:        100,
		},
		Notify: NotifyConfig{
			KafkaTopic: "chronicle.maintenance",
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			ServiceName: "chronicle",
		},
	}
}

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Keys missing from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings from CHRONICLE_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	return nil
}

// Resolve loads the config file at path, or searches upward from the working
// directory when path is empty, and then applies environment overrides. A
// missing file yields the defaults.
func Resolve(path string) (*Config, string, error) {
	var (
		cfg *Config
		dir string
		err error
	)

	if path != "" {
		cfg, err = LoadFile(path)
		dir = filepath.Dir(path)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			dir, cfg, err = FindConfig(wd)
		}
		if os.IsNotExist(err) {
			cfg, dir, err = DefaultConfig(), "", nil
		}
	}
	if err != nil {
		return nil, "", err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root, config not found
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	switch c.Database.Driver {
	case "":
		errors = append(errors, "database.driver is required")
	case DriverPostgres:
		if c.Database.URL == "" {
			errors = append(errors, "database.url is required for postgres driver")
		}
	case DriverMemory:
	default:
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}

	if strings.TrimSpace(c.Archive.Path) == "" {
		errors = append(errors, "archive.path is required")
	}
	if c.Archive.MaxAge <= 0 {
		errors = append(errors, "archive.max_age must be positive")
	}
	if c.Archive.SafetyMargin < 0 {
		errors = append(errors, "archive.safety_margin must not be negative")
	}
	if c.Archive.RollupInterval <= 0 {
		errors = append(errors, "archive.rollup_interval must be positive")
	}

	if c.Snapshots.MinEvents <= 0 {
		errors = append(errors, "snapshots.min_events must be positive")
	}
	if c.Snapshots.EventThreshold <= 0 {
		errors = append(errors, "snapshots.event_threshold must be positive")
	}
	if c.Snapshots.Retention < 1 {
		errors = append(errors, "snapshots.retention must be at least 1")
	}
	switch c.Snapshots.Encoding {
	case "", EncodingJSON, EncodingMsgpack:
	default:
		errors = append(errors, fmt.Sprintf("snapshots.encoding must be json or msgpack, got %q", c.Snapshots.Encoding))
	}

	if c.Monitor.Interval <= 0 {
		errors = append(errors, "monitor.interval must be positive")
	}

	switch strings.ToLower(c.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "telemetry.log_level must be debug, info, warn or error")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Chronicle Configuration File
# Environment variables (CHRONICLE_*) override every value below.

version: "1"

# Hot event and snapshot store
database:
  # Driver: postgres or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL (required for postgres)
  url: "${DATABASE_URL}"

  schema: "` + cfg.Database.Schema + `"
  max_connections: ` + fmt.Sprint(cfg.Database.MaxConnections) + `

# Cold storage for archived events
archive:
  path: "` + cfg.Archive.Path + `"
  max_age: ` + cfg.Archive.MaxAge.String() + `
  safety_margin: ` + cfg.Archive.SafetyMargin.String() + `
  batch_size: ` + fmt.Sprint(cfg.Archive.BatchSize) + `
  keep_recent: ` + fmt.Sprint(cfg.Archive.KeepRecent) + `
  rollup_interval: ` + cfg.Archive.RollupInterval.String() + `

# Snapshot policy
snapshots:
  min_events: ` + fmt.Sprint(cfg.Snapshots.MinEvents) + `
  event_threshold: ` + fmt.Sprint(cfg.Snapshots.EventThreshold) + `
  max_age: ` + cfg.Snapshots.MaxAge.String() + `
  retention: ` + fmt.Sprint(cfg.Snapshots.Retention) + `
  batch_size: ` + fmt.Sprint(cfg.Snapshots.BatchSize) + `
  workers: ` + fmt.Sprint(cfg.Snapshots.Workers) + `
  encoding: ` + cfg.Snapshots.Encoding + `

# Performance monitor
monitor:
  listen_addr: "` + cfg.Monitor.ListenAddr + `"
  interval: ` + cfg.Monitor.Interval.String() + `
  slow_threshold: ` + cfg.Monitor.SlowThreshold.String() + `
  window: ` + fmt.Sprint(cfg.Monitor.Window) + `
  archive_enabled: ` + fmt.Sprint(cfg.Monitor.ArchiveEnabled) + `

# Maintenance notifications (empty disables a target)
notify:
  kafka_brokers: []
  kafka_topic: "` + cfg.Notify.KafkaTopic + `"
  sns_topic_arn: ""
  webhook_url: ""

telemetry:
  log_level: "` + cfg.Telemetry.LogLevel + `"
  trace: ` + fmt.Sprint(cfg.Telemetry.Trace) + `
  service_name: "` + cfg.Telemetry.ServiceName + `"
`
}
