package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"mue/importer/internal/catalog"
	"mue/importer/internal/config"
	"mue/importer/internal/devices"
	"mue/importer/internal/geo"
	"mue/importer/internal/log"
	"mue/importer/internal/media/encoder"
	"mue/importer/internal/pipeline"
	"mue/importer/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Logging.Level).With().Str("run_id", uuid.NewString()).Logger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// one-time barrier: the device table must be ready before any file's
	// enrichment stage runs
	resolver, err := devices.Bootstrap(ctx, cfg.Devices)
	if err != nil {
		logger.Fatal().Err(err).Msg("device table bootstrap failed")
	}
	logger.Info().Int("models", resolver.Len()).Msg("device table ready")

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store init failed")
	}
	if err := store.Check(ctx); err != nil {
		logger.Fatal().Err(err).Msg("object store check failed")
	}

	pool, err := catalog.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog connection failed")
	}
	defer pool.Close()

	enc := encoder.New()
	defer encoder.Shutdown()

	events := pipeline.Events{
		FileStarted: func(file string) {
			logger.Debug().Str("file", file).Msg("file started")
		},
		StageDone: func(file string, state pipeline.State) {
			logger.Debug().Str("file", file).Str("state", string(state)).Msg("stage done")
		},
		FileDone: func(o pipeline.Outcome) {
			event := logger.Info()
			if o.State == pipeline.StateFailed {
				event = logger.Error().Err(o.Err).Str("stage", string(o.Stage))
			}
			event.Str("file", o.File).Str("id", o.ID).Str("state", string(o.State)).Msg("file finished")
		},
	}

	p := pipeline.New(pipeline.Options{
		Dir:              cfg.Import.Dir,
		Category:         cfg.Import.Category,
		FallbackLocation: cfg.Import.Location,
		Photographer:     cfg.Import.Photographer,
		Concurrency:      cfg.Import.Concurrency,
	}, enc, store, catalog.NewRepository(pool), geo.New(cfg.Geo), resolver, events, logger)

	summary, err := p.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn().Msg("run interrupted; remaining files stay in the import directory")
	case err != nil:
		logger.Fatal().Err(err).Msg("run aborted")
	}

	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("import complete")

	for stage, count := range summary.FailedByStage {
		logger.Warn().Str("stage", string(stage)).Int("count", count).Msg("failures by stage")
	}
}
