// Package app wires configuration, logging and the ETL pipeline into a
// runnable job.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sparkify/datalake/internal/config"
	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/etl"
)

// App is one configured ETL job.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *etl.Pipeline
}

// New resolves and validates cfg, prepares the work directory and builds
// the logger.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		pipeline: etl.NewPipeline(cfg, logger),
	}, nil
}

// Logger returns the job logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run executes the pipeline once.
func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	a.logger.Info("sparkify etl starting",
		zap.String("input_data", a.cfg.InputData),
		zap.String("output_data", a.cfg.OutputData),
		zap.String("work_dir", a.cfg.WorkDir),
	)

	if err := a.pipeline.Run(ctx); err != nil {
		a.logger.Error("sparkify etl failed",
			zap.Error(err),
			zap.String("category", string(pipelineerrors.GetCategory(err))),
			zap.String("code", pipelineerrors.GetCode(err)),
			zap.Bool("retryable", pipelineerrors.IsRetryable(err)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return err
	}

	a.logger.Info("sparkify etl finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Close flushes the logger.
func (a *App) Close() error {
	// Sync on a console sink returns EINVAL on some platforms.
	_ = a.logger.Sync()
	return nil
}

// NewLogger builds a production (JSON) or development (console) logger at
// the configured level.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
