// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/psicosas/psicosas/internal/schemactx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNoSchemaBound is returned by InSchema when the context carries no
// tenant binding.
var ErrNoSchemaBound = errors.New("no tenant schema bound to context")

const uniqueViolation = "23505"

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool         *pgxpool.Pool
	publicSchema string
}

// Config holds database configuration
type Config struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	// PublicSchema holds the control-plane tables. Defaults to "public".
	PublicSchema string
}

// ConnString renders cfg as a libpq keyword/value connection string.
func (cfg Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
	)
}

// New creates a new database connection
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	public := cfg.PublicSchema
	if public == "" {
		public = "public"
	}
	return &DB{pool: pool, publicSchema: public}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// InSchema runs fn in a transaction whose search_path is the schema bound to
// ctx. The setting is transaction-local: it ends with the transaction and
// never survives on the pooled connection.
func (db *DB) InSchema(ctx context.Context, fn func(tx pgx.Tx) error) error {
	schema, err := boundSchema(ctx)
	if err != nil {
		return err
	}
	return db.WithSchema(ctx, schema, pgx.TxOptions{}, fn)
}

func boundSchema(ctx context.Context) (string, error) {
	b, ok := schemactx.FromContext(ctx)
	if !ok {
		return "", ErrNoSchemaBound
	}
	return b.Schema, nil
}

// InControlPlane runs fn in a transaction confined to the public schema.
func (db *DB) InControlPlane(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithSchema(ctx, db.publicSchema, pgx.TxOptions{}, fn)
}

// WithSchema runs fn in a transaction confined to an explicit schema.
func (db *DB) WithSchema(ctx context.Context, schema string, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db.pool, opts, func(tx pgx.Tx) error {
		if err := setSearchPath(ctx, tx, schema); err != nil {
			return err
		}
		return fn(tx)
	})
}

func setSearchPath(ctx context.Context, tx pgx.Tx, schema string) error {
	if _, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", quoteIdent(schema)); err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	return nil
}

// Migrate creates the control-plane tables.
func (db *DB) Migrate(ctx context.Context) error {
	script, err := migrations.ReadFile("migrations/public_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	return db.InControlPlane(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply public schema: %w", err)
		}
		return nil
	})
}

// MigrateTenant applies the clinic tables to an existing clinic schema. The
// script is idempotent.
func (db *DB) MigrateTenant(ctx context.Context, schema string) error {
	return db.WithSchema(ctx, schema, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return applyTenantSchema(ctx, tx)
	})
}

func applyTenantSchema(ctx context.Context, tx pgx.Tx) error {
	script, err := migrations.ReadFile("migrations/tenant_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read migration: %w", err)
	}
	if _, err := tx.Exec(ctx, string(script)); err != nil {
		return fmt.Errorf("failed to apply tenant schema: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
