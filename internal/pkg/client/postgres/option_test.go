package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsApplyToPoolConfig(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://monitor@localhost:5432/monitor?sslmode=disable")
	require.NoError(t, err)

	for _, o := range []Option{
		WithMaxConns(8),
		WithMinConns(2),
		WithMaxConnLifetime(time.Hour),
		WithMaxConnIdleTime(10 * time.Minute),
		WithHealthCheckPeriod(30 * time.Second),
		WithPoolConfig(func(cfg *pgxpool.Config) { cfg.MaxConnLifetimeJitter = time.Minute }),
	} {
		o(cfg)
	}

	assert.Equal(t, int32(8), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, 10*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckPeriod)
	assert.Equal(t, time.Minute, cfg.MaxConnLifetimeJitter)
}
