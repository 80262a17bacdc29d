// Package config loads the YAML configuration shared by the commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendSQLite     = "sqlite"
	BackendClickhouse = "clickhouse"
)

// Config is the complete configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Queue   QueueConfig   `yaml:"queue"`
	Journal JournalConfig `yaml:"journal"`
	Server  ServerConfig  `yaml:"server"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// StorageConfig selects where jobs, bars and summaries live.
type StorageConfig struct {
	QueueBackend  string `yaml:"queue_backend"` // memory | postgres | sqlite
	BarBackend    string `yaml:"bar_backend"`   // memory | clickhouse; clickhouse also stores summaries
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	Migrate       bool   `yaml:"migrate"` // apply embedded migrations on startup
}

// WorkerConfig controls a queue worker.
type WorkerConfig struct {
	ID                string        `yaml:"id"` // random when empty
	MaxConcurrent     int           `yaml:"max_concurrent"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Parallelism       int           `yaml:"parallelism"` // backtests per job; 0 uses every CPU
	Warmup            time.Duration `yaml:"warmup"`
	FeeRate           float64       `yaml:"fee_rate"`
}

// QueueConfig controls queue housekeeping.
type QueueConfig struct {
	RetentionDays   int           `yaml:"retention_days"`
	StaleMinutes    int           `yaml:"stale_minutes"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// JournalConfig controls where journals and leaderboards are written.
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	EmbeddedWorker bool          `yaml:"embedded_worker"` // run a worker inside the server process
	AllowedOrigins []string      `yaml:"allowed_origins"` // extra browser origins for the WebSocket stream
}

// Load reads the YAML file at path and the .env file if present. Environment
// variables override the file. An empty path uses environment and defaults only.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StaleTimeout returns the heartbeat age after which a running job is reclaimed.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.Queue.StaleMinutes) * time.Minute
}

// Validate checks backend names and interval consistency.
func (c *Config) Validate() error {
	switch c.Storage.QueueBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres queue backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.Storage.QueueBackend)
	}
	switch c.Storage.BarBackend {
	case BackendMemory:
	case BackendClickhouse:
		if c.Storage.ClickhouseDSN == "" {
			return fmt.Errorf("config: clickhouse bar backend requires clickhouse_dsn")
		}
	default:
		return fmt.Errorf("config: unknown bar backend %q", c.Storage.BarBackend)
	}
	if 2*c.Worker.HeartbeatInterval >= c.StaleTimeout() {
		return fmt.Errorf("config: heartbeat interval %s too close to stale timeout %s",
			c.Worker.HeartbeatInterval, c.StaleTimeout())
	}
	return nil
}

// applyEnvOverrides overrides values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"QUEUE_BACKEND":  &cfg.Storage.QueueBackend,
		"BAR_BACKEND":    &cfg.Storage.BarBackend,
		"POSTGRES_DSN":   &cfg.Storage.PostgresDSN,
		"CLICKHOUSE_DSN": &cfg.Storage.ClickhouseDSN,
		"SQLITE_PATH":    &cfg.Storage.SQLitePath,
		"WORKER_ID":      &cfg.Worker.ID,
		"JOURNAL_DIR":    &cfg.Journal.Dir,
		"SERVER_ADDR":    &cfg.Server.Addr,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if v := os.Getenv("WORKER_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WORKER_MAX_CONCURRENT: %w", err)
		}
		cfg.Worker.MaxConcurrent = n
	}
	return nil
}

// setDefaults fills in every unset value.
func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.QueueBackend == "" {
		cfg.Storage.QueueBackend = BackendMemory
	}
	if cfg.Storage.BarBackend == "" {
		cfg.Storage.BarBackend = BackendMemory
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "backtest-lab.db"
	}
	if cfg.Worker.MaxConcurrent <= 0 {
		cfg.Worker.MaxConcurrent = 1
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 2 * time.Second
	}
	if cfg.Worker.HeartbeatInterval <= 0 {
		cfg.Worker.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Queue.RetentionDays <= 0 {
		cfg.Queue.RetentionDays = 7
	}
	if cfg.Queue.StaleMinutes <= 0 {
		cfg.Queue.StaleMinutes = 5
	}
	if cfg.Queue.CleanupInterval <= 0 {
		cfg.Queue.CleanupInterval = time.Minute
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "output/journals"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.StreamInterval <= 0 {
		cfg.Server.StreamInterval = time.Second
	}
}
