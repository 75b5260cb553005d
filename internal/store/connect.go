package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/velikanov/kbase/internal/config"
	"github.com/velikanov/kbase/internal/log"
)

// Connect establishes the PostgreSQL connection pool, retrying with the
// configured exponential backoff (base delay doubling each attempt).
// Exhausting the attempt budget is a fatal startup error; per-request
// store errors later on are never retried.
func Connect(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MinConns = cfg.PoolMinConns
	poolCfg.MaxConns = cfg.PoolMaxConns
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Registers the vector type so []float32-backed pgvector.Vector
		// values can be bound and scanned natively.
		return pgxvector.RegisterTypes(ctx, conn)
	}

	delay := cfg.ConnectBaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				logger.Info("connected to postgres",
					"host", cfg.PostgresHost, "database", cfg.PostgresDBName, "attempt", attempt)
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		if attempt == cfg.ConnectAttempts {
			break
		}

		logger.Warn("postgres not ready, retrying",
			"attempt", attempt, "max_attempts", cfg.ConnectAttempts,
			"retry_in", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("connecting to postgres: %w", ctx.Err())
		}
		delay *= 2
	}

	return nil, fmt.Errorf("connecting to postgres after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}
