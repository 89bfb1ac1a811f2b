// PostgreSQL connection setup.
//
// The DSN comes from config.PostgresConfig.URL: DATABASE_URL when set,
// otherwise assembled from PGHOST/PGPORT/PGUSER/PGPASSWORD/PGDATABASE/PGSSLMODE.

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-gamma/backend/internal/config"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn, err := cfg.URL()
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates every table the service uses.
func (db *Postgres) EnsureSchema(ctx context.Context) error {
	if err := db.EnsureUserSchema(ctx); err != nil {
		return fmt.Errorf("users schema: %w", err)
	}
	if err := db.EnsureChatSchema(ctx); err != nil {
		return fmt.Errorf("chats schema: %w", err)
	}
	return nil
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Postgres) exec(ctx context.Context, queries []string) error {
	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
