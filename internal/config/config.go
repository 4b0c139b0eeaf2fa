// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bacpac-orchestrator/internal/engine/sqlpackage"
	localstorage "github.com/JakeFAU/bacpac-orchestrator/internal/storage/local"
)

// Engine drivers.
const (
	EngineSQLPackage = "sqlpackage"
	EngineScripted   = "scripted"
)

// Storage backends for uploaded artifacts.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Quiescence QuiescenceConfig `mapstructure:"quiescence"`
	Events     EventsConfig     `mapstructure:"events"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig selects and tunes the transfer engine.
type EngineConfig struct {
	Driver     string            `mapstructure:"driver"`
	SQLPackage sqlpackage.Config `mapstructure:"sqlpackage"`
	Scripted   ScriptedConfig    `mapstructure:"scripted"`
}

// ScriptedConfig paces the dry-run engine.
type ScriptedConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ProgressConfig tunes the per-run progress buffer.
type ProgressConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// ActivityConfig bounds the activity log.
type ActivityConfig struct {
	Capacity       int  `mapstructure:"capacity"`
	DedupeAdjacent bool `mapstructure:"dedupe_adjacent"`
}

// QuiescenceConfig sets the trailing-output wait after the engine returns.
type QuiescenceConfig struct {
	Poll  time.Duration `mapstructure:"poll"`
	Quiet time.Duration `mapstructure:"quiet"`
	Cap   time.Duration `mapstructure:"cap"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
}

// DBConfig controls access to the run history database. An empty DSN keeps
// history in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// StorageConfig selects where finished backups are uploaded.
type StorageConfig struct {
	Backend       string              `mapstructure:"backend"`
	Prefix        string              `mapstructure:"prefix"`
	UploadTimeout time.Duration       `mapstructure:"upload_timeout"`
	Local         localstorage.Config `mapstructure:"local"`
	GCS           GCSConfig           `mapstructure:"gcs"`
}

// GCSConfig names the bucket for the gcs backend.
type GCSConfig struct {
	Bucket       string `mapstructure:"bucket"`
	VerifyBucket bool   `mapstructure:"verify_bucket"`
	ChunkSize    int    `mapstructure:"chunk_size"`
}

// PubSubConfig holds metadata for completion notifications. Leaving either
// field empty keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BACPAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("engine.driver", EngineSQLPackage)
	v.SetDefault("engine.sqlpackage.binary", "sqlpackage")
	v.SetDefault("engine.sqlpackage.wait_delay", 5*time.Second)
	v.SetDefault("engine.scripted.interval", 250*time.Millisecond)
	v.SetDefault("progress.flush_interval", 120*time.Millisecond)
	v.SetDefault("progress.batch_size", 40)
	v.SetDefault("progress.drain_timeout", 30*time.Second)
	v.SetDefault("activity.capacity", 300)
	v.SetDefault("activity.dedupe_adjacent", false)
	v.SetDefault("quiescence.poll", 100*time.Millisecond)
	v.SetDefault("quiescence.quiet", 800*time.Millisecond)
	v.SetDefault("quiescence.cap", 15*time.Second)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 64)
	v.SetDefault("events.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("events.sink_timeout", 10*time.Second)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "bacpacs")
	v.SetDefault("storage.upload_timeout", 30*time.Minute)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Engine.Driver {
	case EngineSQLPackage, EngineScripted:
	default:
		return fmt.Errorf("engine.driver %q must be %q or %q", c.Engine.Driver, EngineSQLPackage, EngineScripted)
	}
	if c.Progress.BatchSize <= 0 {
		return errors.New("progress.batch_size must be > 0")
	}
	if c.Activity.Capacity <= 0 {
		return errors.New("activity.capacity must be > 0")
	}
	if c.Quiescence.Cap < c.Quiescence.Quiet {
		return errors.New("quiescence.cap must be >= quiescence.quiet")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return errors.New("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			return errors.New("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Dry reports whether operations run against the scripted engine.
func (c Config) Dry() bool {
	return c.Engine.Driver == EngineScripted
}
