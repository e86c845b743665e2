// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitalis-app/collector/internal/models"
)

// ErrInvalidConfig wraps every validation failure. A process holding an
// invalid configuration must not start.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
// It accepts duration strings ("15s", "1m30s") and bare integers, which are
// read as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all collector and agent configuration.
type Config struct {
	Collection CollectionConfig           `yaml:"collection"`
	Thresholds map[string]ThresholdConfig `yaml:"thresholds"`
	Endpoints  []EndpointConfig           `yaml:"endpoints"`
	Registry   RegistryConfig             `yaml:"registry"`
	Storage    StorageConfig              `yaml:"storage"`
	Notify     NotifyConfig               `yaml:"notify"`
	Admin      AdminConfig                `yaml:"admin"`
	Logging    LoggingConfig              `yaml:"logging"`
	Agent      AgentConfig                `yaml:"agent"`
}

// CollectionConfig holds polling cadence and concurrency settings.
type CollectionConfig struct {
	Interval       Duration `yaml:"interval"`
	Timeout        Duration `yaml:"timeout"`
	Grace          Duration `yaml:"grace"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	ErrorPause     Duration `yaml:"error_pause"`
}

// ThresholdConfig is the warning/critical pair for one metric type.
type ThresholdConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// EndpointConfig seeds the registry at startup.
type EndpointConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Disabled bool   `yaml:"disabled"`
}

// RegistryConfig holds the endpoint record file location.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	Log      LogConfig      `yaml:"log"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// LogConfig configures the append-only JSON lines backend.
type LogConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SQLiteConfig configures the embedded relational backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the networked relational backend. DSN, when set,
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN            string   `yaml:"dsn"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Database       string   `yaml:"database"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	SSLMode        string   `yaml:"ssl_mode"`
	MaxConns       int32    `yaml:"max_conns"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// NotifyConfig configures alert publication. An empty URL disables it.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// AdminConfig configures the administrative HTTP API. An empty Listen disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AgentConfig holds settings for the metric-producing agent binary.
type AgentConfig struct {
	Listen              string   `yaml:"listen"`
	DiskPath            string   `yaml:"disk_path"`
	SuspiciousProcesses []string `yaml:"suspicious_processes"`
}

// Storage backend names.
const (
	BackendLog      = "log"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Collection: CollectionConfig{
			Interval:   Duration{30 * time.Second},
			Timeout:    Duration{10 * time.Second},
			Grace:      Duration{2 * time.Second},
			ErrorPause: Duration{5 * time.Second},
		},
		Thresholds: map[string]ThresholdConfig{
			models.MetricCPUUsage:       {Warning: 80, Critical: 95},
			models.MetricCPUTemperature: {Warning: 70, Critical: 85},
			models.MetricSystemLoad:     {Warning: 2.0, Critical: 4.0},
			models.MetricMemoryUsage:    {Warning: 85, Critical: 95},
			models.MetricDiskUsage:      {Warning: 90, Critical: 95},
		},
		Registry: RegistryConfig{
			Path: "./endpoints.yaml",
		},
		Storage: StorageConfig{
			Backend: BackendLog,
			Log: LogConfig{
				Dir:        "./data",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
			SQLite: SQLiteConfig{
				Path: "./metrics.db",
			},
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "monitoring",
				User:           "monitor",
				SSLMode:        "disable",
				MaxConns:       4,
				ConnectTimeout: Duration{30 * time.Second},
			},
		},
		Notify: NotifyConfig{
			Subject: "vitalis.alerts",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./collector.log",
		},
		Agent: AgentConfig{
			Listen:   ":9000",
			DiskPath: "/",
			SuspiciousProcesses: []string{
				"xmrig", "minerd", "cpuminer", "ncat", "netcat", "nc",
			},
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty, the standard search paths are tried. A missing file
// yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Locate()
	}
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// FileName is the configuration file name looked up in the search paths.
const FileName = "collector.yaml"

// configSearchPaths returns $VITALIS_CONFIG, then the working directory, then
// the platform directories.
func configSearchPaths() []string {
	var paths []string
	if p := os.Getenv("VITALIS_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, FileName)
	for _, dir := range systemConfigDirs() {
		paths = append(paths, filepath.Join(dir, FileName))
	}
	return paths
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv("VITALIS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if backend := os.Getenv("VITALIS_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dsn := os.Getenv("VITALIS_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}
	if listen := os.Getenv("VITALIS_ADMIN_LISTEN"); listen != "" {
		cfg.Admin.Listen = listen
	}
	if url := os.Getenv("VITALIS_NATS_URL"); url != "" {
		cfg.Notify.NATSURL = url
	}
}

// Validate checks that the configuration can be used to start the collector.
// Every returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Collection.Interval.Duration <= 0 {
		return invalid("collection.interval must be positive")
	}
	if c.Collection.Timeout.Duration <= 0 {
		return invalid("collection.timeout must be positive")
	}
	if c.Collection.Grace.Duration < 0 {
		return invalid("collection.grace must not be negative")
	}
	if c.Collection.MaxConcurrency < 0 {
		return invalid("collection.max_concurrency must not be negative")
	}
	if c.Collection.ErrorPause.Duration < 0 {
		return invalid("collection.error_pause must not be negative")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case BackendLog:
		if c.Storage.Log.Dir == "" {
			return invalid("storage.log.dir is required")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return invalid("storage.sqlite.path is required")
		}
	case BackendPostgres:
		pg := c.Storage.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.Database == "") {
			return invalid("storage.postgres requires dsn or host and database")
		}
	default:
		return invalid(fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for _, e := range c.Endpoints {
		if e.Name == "" || e.Host == "" {
			return invalid("endpoints require name and host")
		}
		if e.Port <= 0 || e.Port > 65535 {
			return invalid(fmt.Sprintf("endpoint %q has invalid port %d", e.Name, e.Port))
		}
		if seen[e.Name] {
			return invalid(fmt.Sprintf("endpoint %q listed twice", e.Name))
		}
		seen[e.Name] = true
	}

	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
