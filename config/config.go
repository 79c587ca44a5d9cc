package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/smallnest/checkpointer/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHECKPOINTER_BACKEND
const EnvPrefix = "CHECKPOINTER"

// Backends lists the supported values of Config.Backend
var Backends = []string{"memory", "file", "sqlite", "postgres", "redis", "mongo"}

// Config is the checkpointer configuration. Env var names are the prefix, the
// section and the field name in upper snake case, e.g. CHECKPOINTER_REDIS_TTL.
type Config struct {
	Backend  string         `yaml:"backend" split_words:"true"`
	File     FileConfig     `yaml:"file" envconfig:"FILE"`
	Sqlite   SqliteConfig   `yaml:"sqlite" envconfig:"SQLITE"`
	Postgres PostgresConfig `yaml:"postgres" envconfig:"POSTGRES"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	Mongo    MongoConfig    `yaml:"mongo" envconfig:"MONGO"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
	Recency  RecencyConfig  `yaml:"recency" envconfig:"RECENCY"`
}

type FileConfig struct {
	Dir string `yaml:"dir" split_words:"true"`
}

type SqliteConfig struct {
	Path             string `yaml:"path" split_words:"true"`
	CheckpointsTable string `yaml:"checkpoints_table" split_words:"true"`
	WritesTable      string `yaml:"writes_table" split_words:"true"`
}

type PostgresConfig struct {
	URL              string `yaml:"url" split_words:"true"`
	CheckpointsTable string `yaml:"checkpoints_table" split_words:"true"`
	WritesTable      string `yaml:"writes_table" split_words:"true"`
	InitSchema       bool   `yaml:"init_schema" split_words:"true"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" split_words:"true"`
	Password string        `yaml:"password" split_words:"true"`
	DB       int           `yaml:"db" split_words:"true"`
	Prefix   string        `yaml:"prefix" split_words:"true"`
	TTL      time.Duration `yaml:"ttl" split_words:"true"`
}

type MongoConfig struct {
	URI                   string `yaml:"uri" split_words:"true"`
	Database              string `yaml:"database" split_words:"true"`
	CheckpointsCollection string `yaml:"checkpoints_collection" split_words:"true"`
	WritesCollection      string `yaml:"writes_collection" split_words:"true"`
}

type LogConfig struct {
	Level string `yaml:"level" split_words:"true"`
}

type RecencyConfig struct {
	OrderByTimestamp bool `yaml:"order_by_timestamp" split_words:"true"`
}

// Default returns the configuration used when nothing is set: an in-memory log at info level
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.File.Dir == "" {
		c.File.Dir = "./checkpoints"
	}
	if c.Sqlite.Path == "" {
		c.Sqlite.Path = "./checkpoints.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "checkpointing_db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Load reads configuration from the specified path, or from the default
// locations if path is empty. Sources, lowest priority first:
// 1. Defaults
// 2. Config file
// 3. Env vars with the CHECKPOINTER_ prefix (also loaded from .env files)
func Load(path string) (*Config, error) {
	// Try loading .env files (ignore error if not present)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	if path == "" {
		path = defaultPath()
	}

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Env overrides values from the config file
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func defaultPath() string {
	// Local directory wins over the home directory
	if _, err := os.Stat("checkpointer.yaml"); err == nil {
		return "checkpointer.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, ".checkpointer", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Validate rejects unknown backends and missing connection settings
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("unknown backend %q (want one of %v)", c.Backend, Backends)
	}

	switch c.Backend {
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres backend requires postgres.url")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo backend requires mongo.uri")
		}
	case "redis":
		if c.Redis.TTL < 0 {
			return fmt.Errorf("redis.ttl must not be negative")
		}
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// LogLevel returns the configured log level, defaulting to info
func (c *Config) LogLevel() log.LogLevel {
	level, _ := log.ParseLevel(c.Log.Level)
	return level
}
