// Package database инициализирует пул подключений и применяет миграции.
package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"narrator-server/internal/config"
	"narrator-server/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPool создает пул подключений к Postgres и проверяет связность.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать DSN базы данных: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}

	return pool, nil
}

// ApplyMigrations применяет встроенные миграции к базе данных.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: "migrations",
		MigrationsFS:   migrationsFS,
	}, pool)
	return migrator.Up(ctx)
}
