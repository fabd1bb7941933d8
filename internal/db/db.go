// Package db opens the correlation store selected by the configured DSN scheme.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/memohai/crosschat/internal/config"
	"github.com/memohai/crosschat/internal/correlation"
	"github.com/memohai/crosschat/internal/correlation/mongo"
	"github.com/memohai/crosschat/internal/correlation/postgres"
)

// Backend names a correlation store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongodb"
)

// BackendFor maps a DSN to its backend.
func BackendFor(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("store dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse store dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return BackendMemory, nil
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "mongodb", "mongodb+srv":
		return BackendMongo, nil
	default:
		return "", fmt.Errorf("unsupported store scheme: %q", parsed.Scheme)
	}
}

// Open connects the configured store, running schema migrations first when enabled.
func Open(ctx context.Context, log *slog.Logger, cfg config.StoreConfig) (correlation.Store, error) {
	backend, err := BackendFor(cfg.DSN)
	if err != nil {
		return nil, err
	}
	log = log.With(slog.String("store", string(backend)))
	switch backend {
	case BackendMemory:
		log.Warn("using in-memory correlation store; links are lost on restart")
		return correlation.NewMemoryStore(), nil
	case BackendPostgres:
		if cfg.Migrate {
			if err := postgres.Migrate(log, cfg.DSN); err != nil {
				return nil, err
			}
		}
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("correlation store connected")
		return store, nil
	case BackendMongo:
		store, err := mongo.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("correlation store connected", slog.String("database", mongo.DatabaseName(cfg.DSN)))
		return store, nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", backend)
}

// Migrate brings the schema of the configured store up to date.
func Migrate(ctx context.Context, log *slog.Logger, cfg config.StoreConfig) error {
	backend, err := BackendFor(cfg.DSN)
	if err != nil {
		return err
	}
	switch backend {
	case BackendPostgres:
		return postgres.Migrate(log, cfg.DSN)
	case BackendMongo:
		store, err := mongo.Open(ctx, cfg.DSN)
		if err != nil {
			return err
		}
		log.Info("mongo indexes ensured", slog.String("database", mongo.DatabaseName(cfg.DSN)))
		return store.Close(ctx)
	default:
		log.Info("nothing to migrate", slog.String("store", string(backend)))
		return nil
	}
}
