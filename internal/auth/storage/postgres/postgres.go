// internal/auth/storage/postgres/postgres.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidshare/ObservaShop/common/backoff"
	"github.com/davidshare/ObservaShop/common/logger"
)

// Config описывает подключение к PostgreSQL.
type Config struct {
	DSN     string         `mapstructure:"dsn"`
	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) ApplyDefaults() {}

func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	return nil
}

// Connect открывает пул с retry и проверяет соединение.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("postgres")

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	var pool *pgxpool.Pool
	connect := func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	if err := backoff.Execute(ctx, cfg.Backoff, log, connect); err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	log.Info("postgres: connected", zap.String("host", poolCfg.ConnConfig.Host))
	return pool, nil
}

// schema — DDL, применяемый на старте. Идемпотентно.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roles (
	name        TEXT PRIMARY KEY,
	description TEXT
);

CREATE TABLE IF NOT EXISTS role_permissions (
	role_name  TEXT NOT NULL REFERENCES roles(name) ON DELETE CASCADE,
	permission TEXT NOT NULL,
	PRIMARY KEY (role_name, permission)
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_name   TEXT NOT NULL REFERENCES roles(name) ON DELETE CASCADE,
	assigned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, role_name)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role_name);
`

// ApplyMigrations применяет встроенную схему.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	log.Named("postgres").Info("schema applied")
	return nil
}
