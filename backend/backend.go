package backend

import (
	"context"
	"fmt"

	"github.com/smallnest/checkpointer/config"
	"github.com/smallnest/checkpointer/store"
	"github.com/smallnest/checkpointer/store/file"
	"github.com/smallnest/checkpointer/store/memory"
	"github.com/smallnest/checkpointer/store/mongo"
	"github.com/smallnest/checkpointer/store/postgres"
	"github.com/smallnest/checkpointer/store/redis"
	"github.com/smallnest/checkpointer/store/sqlite"
)

// Open validates cfg and opens the configured checkpoint log.
// The caller must Close the returned log.
func Open(ctx context.Context, cfg *config.Config) (store.Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Backend {
	case "memory":
		return memory.NewMemoryCheckpointStore(), nil

	case "file":
		s, err := file.NewFileCheckpointStore(cfg.File.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "sqlite":
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
			Path:             cfg.Sqlite.Path,
			CheckpointsTable: cfg.Sqlite.CheckpointsTable,
			WritesTable:      cfg.Sqlite.WritesTable,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case "postgres":
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{
			ConnString:       cfg.Postgres.URL,
			CheckpointsTable: cfg.Postgres.CheckpointsTable,
			WritesTable:      cfg.Postgres.WritesTable,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.InitSchema {
			if err := s.InitSchema(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil

	case "redis":
		return redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		}), nil

	case "mongo":
		s, err := mongo.NewMongoCheckpointStore(ctx, mongo.MongoOptions{
			URI:                   cfg.Mongo.URI,
			Database:              cfg.Mongo.Database,
			CheckpointsCollection: cfg.Mongo.CheckpointsCollection,
			WritesCollection:      cfg.Mongo.WritesCollection,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
