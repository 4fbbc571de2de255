package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/gymtable/gymtable-backend/internal/repository"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/rs/zerolog"
)

// OpenBackend picks the store backend from the scheme of url:
//
//	memory://                 process-local map
//	sqlite://<path>           embedded SQLite file (sqlite://:memory: works too)
//	postgres://, postgresql://  PostgreSQL
//
// The schema is created when missing.
func OpenBackend(ctx context.Context, url string, maxConns int32, log zerolog.Logger) (store.Backend, error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("database URL %q has no scheme", url)
	}

	switch scheme {
	case "memory":
		log.Warn().Msg("Using in-memory store, records are lost on exit")
		return store.NewMemoryBackend(), nil

	case "sqlite", "file":
		if rest == "" {
			return nil, fmt.Errorf("database URL %q has no path", url)
		}
		db, err := NewSQLiteDB(ctx, rest, log)
		if err != nil {
			return nil, err
		}
		repo := repository.NewSQLiteClassRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil

	case "postgres", "postgresql":
		pool, err := NewPostgresPool(ctx, url, maxConns, log)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresClassRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}
