package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Option configures the connection pool with the functional options pattern.
type Option func(cfg *pgxpool.Config)

// WithPoolConfig edits the underlying configuration directly.
func WithPoolConfig(fn func(cfg *pgxpool.Config)) Option {
	return func(cfg *pgxpool.Config) { fn(cfg) }
}

// WithMaxConns sets the maximum number of connections.
func WithMaxConns(n int32) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConns = n }
}

// WithMinConns sets the minimum number of idle connections kept open.
func WithMinConns(n int32) Option {
	return func(cfg *pgxpool.Config) { cfg.MinConns = n }
}

// WithMaxConnLifetime sets the maximum lifetime of a connection.
func WithMaxConnLifetime(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConnLifetime = d }
}

// WithMaxConnIdleTime sets the maximum idle time of a connection.
func WithMaxConnIdleTime(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConnIdleTime = d }
}

// WithHealthCheckPeriod sets the pool health check interval.
func WithHealthCheckPeriod(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.HealthCheckPeriod = d }
}
