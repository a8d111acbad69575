// Package storeopen picks and opens the configured store.Store backend. It
// exists as its own package (rather than a function on internal/store)
// because postgres and sqlite both import internal/store for the
// interfaces they implement — a selector living there would be a cycle.
package storeopen

import (
	"context"
	"os"

	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/internal/store/postgres"
	"github.com/deepampatel/foreman/internal/store/sqlite"
)

// EnvDatabaseURL is the environment variable naming a postgres DSN. When
// unset, Open falls back to the sqlite store under home (spec §6 "no
// pub/sub" fallback path).
const EnvDatabaseURL = "FOREMAN_DATABASE_URL"

// Open opens the postgres store at FOREMAN_DATABASE_URL if set, else the
// sqlite store under home, and runs its migrations.
func Open(ctx context.Context, home string) (store.Store, error) {
	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" {
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
	s, err := sqlite.Open(home)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
