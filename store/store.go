package store

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"coincapflow/config"
	"coincapflow/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maintenanceDatabase is connected to when the target database may not exist yet.
const maintenanceDatabase = "postgres"

// Store persists reference and snapshot rows in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Log
}

// DSN builds a postgres:// connection string for database.
func DSN(cfg config.PostgresConfig, database string) string {
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Round(time.Second)/time.Second)))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + database,
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	return u.String()
}

// Open connects a pool to the configured database and verifies it with a ping.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return OpenDSN(ctx, DSN(cfg, cfg.Database), cfg.MaxConns)
}

// OpenDSN connects a pool to dsn. maxConns <= 0 keeps the pgxpool default.
func OpenDSN(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := logger.GetLogger()
	log.WithComponent("store").WithFields(logger.Fields{
		"host":      poolConfig.ConnConfig.Host,
		"database":  poolConfig.ConnConfig.Database,
		"max_conns": poolConfig.MaxConns,
	}).Info("connected to database")

	return &Store{pool: pool, log: log}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// EnsureDatabase creates cfg.Database when it does not exist, connecting
// through the maintenance database with the same credentials.
func EnsureDatabase(ctx context.Context, cfg config.PostgresConfig) (created bool, err error) {
	conn, err := pgx.Connect(ctx, DSN(cfg, maintenanceDatabase))
	if err != nil {
		return false, fmt.Errorf("connect to %s: %w", maintenanceDatabase, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Database).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database %q: %w", cfg.Database, err)
	}
	log := logger.GetLogger().WithComponent("store").WithFields(logger.Fields{"database": cfg.Database})
	if exists {
		log.Debug("database already exists")
		return false, nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()); err != nil {
		return false, fmt.Errorf("create database %q: %w", cfg.Database, err)
	}
	log.Info("database created")
	return true, nil
}
