package etl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sparkify/datalake/internal/config"
	"github.com/sparkify/datalake/internal/engine"
	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/observability"
	"github.com/sparkify/datalake/internal/storage"
)

// Pipeline runs the full job: credentials, session, song catalog
// extraction, then event log extraction.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger
	stats  *observability.RunStats
}

// NewPipeline creates a pipeline for a resolved, validated config.
func NewPipeline(cfg *config.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		stats:  observability.NewRunStats(),
	}
}

// Stats returns the statistics of the last run.
func (p *Pipeline) Stats() *observability.RunStats {
	return p.stats
}

// Run executes the job. Any error is fatal; output already written by an
// earlier step is left in place.
func (p *Pipeline) Run(ctx context.Context) error {
	p.stats = observability.NewRunStats()

	in, err := storage.ParseLocation(p.cfg.InputData)
	if err != nil {
		return pipelineerrors.NewConfigError(pipelineerrors.CodeInvalidConfig, "invalid input_data", err)
	}
	out, err := storage.ParseLocation(p.cfg.OutputData)
	if err != nil {
		return pipelineerrors.NewConfigError(pipelineerrors.CodeInvalidConfig, "invalid output_data", err)
	}

	var creds *storage.Credentials
	if p.cfg.HasRemote() {
		creds, err = config.LoadCredentials(p.cfg.CredentialsFile)
		if err != nil {
			return err
		}
	}

	session, err := engine.NewSession(ctx, engine.Options{
		WorkDir:     p.cfg.WorkDir,
		DBPath:      p.cfg.Engine.DBPath,
		Credentials: creds,
		S3: storage.S3Config{
			Region:       p.cfg.Storage.Region,
			Endpoint:     p.cfg.Storage.Endpoint,
			UsePathStyle: p.cfg.Storage.UsePathStyle,
			MultipartConfig: storage.MultipartUploadConfig{
				PartSize:    p.cfg.MultipartPartSize(),
				Concurrency: p.cfg.Storage.DownloadConcurrency,
			},
		},
		Concurrency: p.cfg.Storage.DownloadConcurrency,
		Logger:      p.logger.Named("engine"),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	p.logger.Info("pipeline started",
		zap.String("input", in.String()),
		zap.String("output", out.String()),
		zap.Bool("reuse_song_catalog", p.cfg.Engine.ReuseSongCatalog),
		zap.Bool("verify_output", p.cfg.Engine.VerifyOutput),
	)

	writer := engine.NewWriter(session, p.stats)
	opts := Options{
		ReuseSongCatalog: p.cfg.Engine.ReuseSongCatalog,
		VerifyOutput:     p.cfg.Engine.VerifyOutput,
	}

	start := time.Now()
	if err := NewSongExtractor(session, writer, p.stats, opts).Run(ctx, in, out); err != nil {
		return err
	}
	p.logger.Info("song catalog extracted", zap.Duration("duration", time.Since(start)))

	start = time.Now()
	if err := NewEventExtractor(session, writer, p.stats, opts).Run(ctx, in, out); err != nil {
		return err
	}
	p.logger.Info("event logs extracted", zap.Duration("duration", time.Since(start)))

	p.stats.Log(p.logger)
	return nil
}
