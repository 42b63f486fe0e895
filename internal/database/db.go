package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// DSN builds the connection string for cfg
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewDB creates the pool and verifies connectivity
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.WithComponent("database")
	logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		id UUID PRIMARY KEY,
		coin VARCHAR(10) NOT NULL,
		action VARCHAR(32) NOT NULL,
		reason TEXT,
		order_id VARCHAR(64),
		side VARCHAR(16),
		size DECIMAL(24, 8) NOT NULL DEFAULT 0,
		price DECIMAL(24, 8) NOT NULL DEFAULT 0,
		pnl DECIMAL(24, 8) NOT NULL DEFAULT 0,
		signal VARCHAR(10),
		confidence DECIMAL(6, 4),
		regime VARCHAR(32),
		decision_log JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_coin ON decisions(coin)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		coin VARCHAR(10) NOT NULL,
		signal VARCHAR(10) NOT NULL,
		confidence DECIMAL(6, 4) NOT NULL,
		regime VARCHAR(32) NOT NULL,
		reasoning JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_coin_created ON signals(coin, created_at)`,
}

// RunMigrations creates the journal and signal log tables
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "count", len(migrations))
	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
