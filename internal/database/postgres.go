// Package database provides the shared *sql.DB connection used by
// internal/ledger, internal/decisionlog, and internal/registry, following
// the teacher's internal/database/postgres.go Connect/Close/Ping/BeginTx
// idiom and its database/sql + lib/pq driver choice.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"sentryml/internal/config"
)

// DB wraps *sql.DB with the connection-pool configuration the teacher's
// PostgresDB.Connect applies.
type DB struct {
	*sql.DB
}

// Connect opens a Postgres connection pool per cfg and verifies it with a
// ping, mirroring PostgresDB.Connect.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}
