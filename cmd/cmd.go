// Package cmd implements the kbase command line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/velikanov/kbase/internal/app"
	"github.com/velikanov/kbase/internal/config"
	"github.com/velikanov/kbase/internal/log"
)

// loadConfig loads and returns the configuration with its logger.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: cfg.LogLevelSlog(),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}

// withApp assembles the application, runs fn and tears down the pool.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
