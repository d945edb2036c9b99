// Package postgresconfig provides the environment-driven configuration for
// the postgres engine tests. The tests are skipped unless a test database
// is configured.
package postgresconfig

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // database/sql driver
)

// Config holds the connection settings for the test database.
type Config struct {
	Host     string `env:"EVENTFOLD_TEST_POSTGRES_HOST"`
	Port     int    `env:"EVENTFOLD_TEST_POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"EVENTFOLD_TEST_POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"EVENTFOLD_TEST_POSTGRES_PASSWORD" envDefault:"postgres"`
	Database string `env:"EVENTFOLD_TEST_POSTGRES_DB" envDefault:"eventfold_test"`
	SSLMode  string `env:"EVENTFOLD_TEST_POSTGRES_SSLMODE" envDefault:"disable"`
}

// FromEnv loads the configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// Configured reports whether a test database host was supplied.
func (c Config) Configured() bool {
	return c.Host != ""
}

// DSN renders the connection string consumed by pgx, sqlx and database/sql
// with the lib/pq driver.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// PGXPool opens a pgx connection pool to the test database.
func (c Config) PGXPool(ctx context.Context) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, c.DSN())
}

// SQLDB opens a database/sql connection to the test database using lib/pq.
func (c Config) SQLDB() (*sql.DB, error) {
	return sql.Open("postgres", c.DSN())
}

// SQLX opens a sqlx connection to the test database using lib/pq.
func (c Config) SQLX() (*sqlx.DB, error) {
	return sqlx.Open("postgres", c.DSN())
}

// SkipUnlessConfigured skips the test when no test database is configured
// and returns the configuration otherwise.
func SkipUnlessConfigured(t testing.TB) Config {
	t.Helper()

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("loading postgres test config failed: %v", err)
	}

	if !cfg.Configured() {
		t.Skip("EVENTFOLD_TEST_POSTGRES_HOST not set, skipping postgres engine test")
	}

	return cfg
}
