// Copyright 2026 The OpenTrusty Authors
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
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenancy"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
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

	// ConnMaxLifetime recycles pooled connections; zero keeps the pgx default.
	ConnMaxLifetime time.Duration
}

// FromConfig converts application database settings
func FromConfig(c config.DatabaseConfig) Config {
	return Config{
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Database:     c.Database,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,

		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// DSN returns the keyword/value connection string for cfg
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// New creates a new database connection pool
func New(ctx context.Context, cfg Config) (*DB, error) {
	connStr := fmt.Sprintf("%s pool_max_conns=%d pool_min_conns=%d", cfg.DSN(), cfg.MaxOpenConns, cfg.MaxIdleConns)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// OpenSQL opens a database/sql handle through the pgx driver, for callers
// that work against the standard interface such as the schema manager.
func OpenSQL(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(max(cfg.MaxIdleConns, 2))
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

const setSearchPath = `SELECT set_config('search_path', $1, false)`

// Bind checks out a pooled connection and points its search_path at namespace.
func (db *DB) Bind(ctx context.Context, namespace string) (tenancy.Conn, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, setSearchPath, pgx.Identifier{namespace}.Sanitize()); err != nil {
		// state of the session is unknown; make sure the pool discards it
		_ = conn.Conn().Close(context.WithoutCancel(ctx))
		conn.Release()
		return nil, fmt.Errorf("failed to set search_path: %w", err)
	}

	return &scopedConn{Conn: conn, namespace: namespace}, nil
}

// scopedConn is a pooled connection bound to one namespace
type scopedConn struct {
	*pgxpool.Conn
	namespace string
}

func (c *scopedConn) Namespace() string {
	return c.namespace
}

// Release resets search_path before handing the connection back to the pool.
// A connection that cannot be reset is closed so that it is never reused.
func (c *scopedConn) Release(ctx context.Context) {
	if c.Conn == nil {
		return
	}
	if _, err := c.Conn.Exec(ctx, setSearchPath, pgx.Identifier{"public"}.Sanitize()); err != nil {
		slog.WarnContext(ctx, "failed to reset search_path, discarding connection",
			logger.Namespace(c.namespace), logger.Error(err))
		_ = c.Conn.Conn().Close(ctx)
	}
	c.Conn.Release()
	c.Conn = nil
}
