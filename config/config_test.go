package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallnest/checkpointer/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadFromFile(t *testing.T) {
	cfgPath := writeConfig(t, `
backend: redis
redis:
  addr: cache:6379
  prefix: "app:"
  ttl: 2h
log:
  level: debug
recency:
  order_by_timestamp: true
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend != "redis" || cfg.Redis.Addr != "cache:6379" || cfg.Redis.Prefix != "app:" {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.TTL != 2*time.Hour {
		t.Fatalf("expected ttl 2h, got %v", cfg.Redis.TTL)
	}
	if cfg.LogLevel() != log.LogLevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel())
	}
	if !cfg.Recency.OrderByTimestamp {
		t.Fatalf("expected timestamp ordering")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadPrefersEnvValues(t *testing.T) {
	cfgPath := writeConfig(t, "backend: sqlite\nsqlite:\n  path: file.db\n")

	t.Setenv("CHECKPOINTER_BACKEND", "postgres")
	t.Setenv("CHECKPOINTER_POSTGRES_URL", "postgres://localhost/app")
	t.Setenv("CHECKPOINTER_POSTGRES_INIT_SCHEMA", "true")
	t.Setenv("CHECKPOINTER_SQLITE_PATH", "env.db")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend != "postgres" {
		t.Fatalf("expected env backend override, got %q", cfg.Backend)
	}
	if cfg.Postgres.URL != "postgres://localhost/app" || !cfg.Postgres.InitSchema {
		t.Fatalf("unexpected postgres config: %+v", cfg.Postgres)
	}
	if cfg.Sqlite.Path != "env.db" {
		t.Fatalf("expected env sqlite path, got %q", cfg.Sqlite.Path)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend != "memory" || cfg.Log.Level != "info" || cfg.Mongo.Database != "checkpointing_db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if *Default() != *cfg {
		t.Fatalf("Default() differs from loaded defaults")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "backend: [unterminated\n")); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("CHECKPOINTER_REDIS_DB", "not-a-number")
	if _, err := Load(writeConfig(t, "{}\n")); err == nil {
		t.Fatal("expected env error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "cassandra" }},
		{"postgres without url", func(c *Config) { c.Backend = "postgres" }},
		{"mongo without uri", func(c *Config) { c.Backend = "mongo" }},
		{"negative ttl", func(c *Config) { c.Backend = "redis"; c.Redis.TTL = -time.Second }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
