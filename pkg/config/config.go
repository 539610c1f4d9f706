// Package config holds runtime configuration for an embedded MiniGU
// database. Configuration can be loaded from environment variables
// (LoadFromEnv) or from a YAML file (LoadFile), and validated with
// Validate before use.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables of §6, plus the ambient logging and
// metrics sections every component reads from.
type Config struct {
	// NumThreads is the execution thread pool size.
	NumThreads int `yaml:"num_threads"`
	// CheckpointDir is where checkpoint files and the manifest live.
	CheckpointDir string `yaml:"checkpoint_dir"`
	// MaxCheckpoints bounds checkpoint rotation.
	MaxCheckpoints int `yaml:"max_checkpoints"`
	// AutoCheckpointIntervalSecs triggers periodic checkpointing; 0 disables it.
	AutoCheckpointIntervalSecs int `yaml:"auto_checkpoint_interval_secs"`
	// CheckpointPrefix names checkpoint files: <prefix>_<commit_ts>_<counter>.ckpt.
	CheckpointPrefix string `yaml:"checkpoint_prefix"`
	// TransactionTimeoutSecs forces a long-running transaction to abort.
	TransactionTimeoutSecs int `yaml:"transaction_timeout_secs"`
	// WALPath is the write-ahead log file location.
	WALPath string `yaml:"wal_path"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls the zerolog sink every package logs through.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, disabled.
	Level string `yaml:"level"`
	// Pretty enables zerolog's human-readable console writer instead
	// of structured JSON; intended for local development only.
	Pretty bool `yaml:"pretty"`
}

// MetricsConfig controls whether a database creates its Prometheus
// collectors (served through metrics.Metrics.Handler). Address is
// loaded from configuration; the database does not start a listener
// on it.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Defaults returns the configuration of §6's default column.
func Defaults() *Config {
	return &Config{
		NumThreads:                 1,
		CheckpointDir:              os.TempDir(),
		MaxCheckpoints:             3,
		AutoCheckpointIntervalSecs: 0,
		CheckpointPrefix:           "minigu",
		TransactionTimeoutSecs:     10,
		WALPath:                    os.TempDir() + "/minigu.wal",
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
	}
}

// LoadFromEnv loads configuration from environment variables,
// prefixed MINIGU_, falling back to Defaults() for anything unset.
func LoadFromEnv() *Config {
	c := Defaults()

	c.NumThreads = getEnvInt("MINIGU_NUM_THREADS", c.NumThreads)
	c.CheckpointDir = getEnv("MINIGU_CHECKPOINT_DIR", c.CheckpointDir)
	c.MaxCheckpoints = getEnvInt("MINIGU_MAX_CHECKPOINTS", c.MaxCheckpoints)
	c.AutoCheckpointIntervalSecs = getEnvInt("MINIGU_AUTO_CHECKPOINT_INTERVAL_SECS", c.AutoCheckpointIntervalSecs)
	c.CheckpointPrefix = getEnv("MINIGU_CHECKPOINT_PREFIX", c.CheckpointPrefix)
	c.TransactionTimeoutSecs = getEnvInt("MINIGU_TRANSACTION_TIMEOUT_SECS", c.TransactionTimeoutSecs)
	c.WALPath = getEnv("MINIGU_WAL_PATH", c.WALPath)

	c.Logging.Level = getEnv("MINIGU_LOG_LEVEL", c.Logging.Level)
	c.Logging.Pretty = getEnvBool("MINIGU_LOG_PRETTY", c.Logging.Pretty)

	c.Metrics.Enabled = getEnvBool("MINIGU_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Address = getEnv("MINIGU_METRICS_ADDRESS", c.Metrics.Address)

	return c
}

// LoadFile loads configuration from a YAML file, starting from
// Defaults() so a partial file only overrides what it mentions.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// TransactionTimeout returns TransactionTimeoutSecs as a Duration; 0
// or negative means no forced timeout.
func (c *Config) TransactionTimeout() time.Duration {
	if c.TransactionTimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(c.TransactionTimeoutSecs) * time.Second
}

// AutoCheckpointInterval returns AutoCheckpointIntervalSecs as a
// Duration; 0 means automatic checkpointing is disabled.
func (c *Config) AutoCheckpointInterval() time.Duration {
	if c.AutoCheckpointIntervalSecs <= 0 {
		return 0
	}
	return time.Duration(c.AutoCheckpointIntervalSecs) * time.Second
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.NumThreads <= 0 {
		return fmt.Errorf("config: num_threads must be positive, got %d", c.NumThreads)
	}
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("config: max_checkpoints must be positive, got %d", c.MaxCheckpoints)
	}
	if c.AutoCheckpointIntervalSecs < 0 {
		return fmt.Errorf("config: auto_checkpoint_interval_secs cannot be negative, got %d", c.AutoCheckpointIntervalSecs)
	}
	if c.TransactionTimeoutSecs < 0 {
		return fmt.Errorf("config: transaction_timeout_secs cannot be negative, got %d", c.TransactionTimeoutSecs)
	}
	if strings.TrimSpace(c.CheckpointPrefix) == "" {
		return fmt.Errorf("config: checkpoint_prefix must not be empty")
	}
	if strings.TrimSpace(c.WALPath) == "" {
		return fmt.Errorf("config: wal_path must not be empty")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}
