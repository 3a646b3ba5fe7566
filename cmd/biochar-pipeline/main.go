package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/audit"
	"github.com/withObsrvr/biochar-datalogger/internal/checkpoint"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/metadata"
	"github.com/withObsrvr/biochar-datalogger/internal/metrics"
	"github.com/withObsrvr/biochar-datalogger/internal/pipeline"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/weather"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log := logging.Component("main")
	log.Info("biochar pipeline starting", "version", pipeline.Version, "years", cfg.Years)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown complete")
			return
		}
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
	log.Info("biochar pipeline stopped cleanly")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	layout, err := config.LoadLayout(cfg.Paths.LayoutFile)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(ctx, cfg.Storage, cfg.Paths.ProcessedDir)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := weather.NewSource(cfg.Weather, layout, cfg.Paths.ProcessedDir, logging.Component("weather"))
	if err != nil {
		return err
	}

	cps, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		return err
	}

	catalog, err := metadata.NewWriter(ctx, cfg.Catalog, logging.Component("metadata"))
	if err != nil {
		// the catalog is optional
		log.Warn("catalog unavailable, continuing without it", "error", err)
		catalog, _ = metadata.NewWriter(ctx, config.CatalogConfig{}, log)
	}
	defer catalog.Close()

	emitter, err := audit.NewEmitter(cfg.Audit, logging.Component("audit"))
	if err != nil {
		return err
	}
	defer emitter.Close()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		srv := m.NewServer(cfg.Metrics.Address)
		go func() {
			log.Info("metrics server listening", "addr", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	p, err := pipeline.New(layout, store, src, pipeline.Options{
		RawDir:         cfg.Paths.RawDir,
		AllowOverwrite: cfg.Checkpoint.AllowOverwrite,
		ExportParquet:  cfg.Export.Parquet,
		Workers:        cfg.Workers,
		Checkpoints:    cps,
		Catalog:        catalog,
		Audit:          emitter,
		Metrics:        m,
		Log:            logging.Component("pipeline"),
	})
	if err != nil {
		return err
	}

	_, err = p.RunYears(ctx, cfg.Years)
	return err
}
