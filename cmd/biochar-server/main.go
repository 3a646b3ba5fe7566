package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/dataset"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/metrics"
	"github.com/withObsrvr/biochar-datalogger/internal/server"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/summary"
)

func main() {
	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	log := logging.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("biochar server stopped cleanly")
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

	m := metrics.New()
	cache := dataset.NewCache(store, layout.Location(),
		dataset.WithLogger(logging.Component("dataset")),
		dataset.WithObserver(m),
	)

	if cfg.Server.Preload {
		years, err := cache.Years(ctx)
		if err != nil {
			return err
		}
		log.Info("preloading datasets", "years", years)
		if err := cache.Preload(ctx, years, aggregate.Granularities()); err != nil {
			return err
		}
		log.Info("preload complete", "tables", cache.Len(), "reads", cache.Reads())
	}

	summaries, err := summary.NewService(store, cache, layout, logging.Component("summary"))
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, cache, summaries, m, layout.Location(), logging.Component("http"))
	return srv.Run(ctx)
}
