package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cityclimate/rasterflow/internal/adapter/dwd"
	httpadapter "github.com/cityclimate/rasterflow/internal/adapter/http"
	kafkaadapter "github.com/cityclimate/rasterflow/internal/adapter/kafka"
	"github.com/cityclimate/rasterflow/internal/adapter/raster"
	"github.com/cityclimate/rasterflow/internal/adapter/sentinelhub"
	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/ledger"
	"github.com/cityclimate/rasterflow/internal/observability"
	"github.com/cityclimate/rasterflow/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	raster.Register()

	strategies, err := buildStrategies(cfg)
	if err != nil {
		logger.Error("failed to load sensor strategies", "error", err)
		os.Exit(1)
	}

	layout := config.NewLayout(cfg.DataDir, cfg.AreaName)
	led, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.json"))
	if err != nil {
		logger.Error("failed to open run ledger", "error", err)
		os.Exit(1)
	}

	client := sentinelhub.NewClient(cfg.SHBaseURL, cfg.SHToken, cfg.RetrievalTimeout, logger)
	catalog := sentinelhub.NewCachedCatalog(client, cfg.CatalogCacheSize, metrics.CatalogCache)

	// Weather gating is feature-flagged via DWD_RESOURCE.
	var weather pipeline.WeatherSource
	if cfg.DWDResource != "" {
		weather = dwd.NewGate(cfg, layout.Weather(), logger)
		logger.Info("weather gating enabled", "resource", cfg.DWDResource)
	} else {
		logger.Info("weather gating disabled")
	}

	// Layer notification is feature-flagged via KAFKA_BROKERS / KAFKA_ENABLED.
	var notifier pipeline.Notifier
	var kafkaNotifier *kafkaadapter.Notifier
	if cfg.KafkaEnabled {
		kafkaNotifier = kafkaadapter.NewNotifier(cfg, logger)
		notifier = kafkaNotifier
		metrics.NotifyEnabled.Set(1)
		logger.Info("layer notification enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("layer notification disabled")
	}

	p := pipeline.New(cfg, strategies, pipeline.Deps{
		Catalog:   catalog,
		Retriever: client,
		Raster:    raster.Ops{},
		Weather:   weather,
		Notifier:  notifier,
		Ledger:    led,
		Metrics:   metrics,
		Logger:    logger,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the pipeline pass.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Error("kafka notifier close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildStrategies binds each configured module to its sensor strategy. The
// mapping is closed: vegetation indices ride on Sentinel-2, surface
// temperature on Landsat.
func buildStrategies(cfg *config.Config) (map[string]domain.Strategy, error) {
	strategies := make(map[string]domain.Strategy, len(cfg.Modules))
	for _, module := range cfg.Modules {
		switch module {
		case config.ModuleVegetationIndices:
			s, err := domain.NewSentinel2(filepath.Join(cfg.EvalscriptDir, "sentinel2.js"))
			if err != nil {
				return nil, err
			}
			strategies[module] = s
		case config.ModuleLandSurfaceTemprature:
			s, err := domain.NewLandsat(filepath.Join(cfg.EvalscriptDir, "landsat.js"))
			if err != nil {
				return nil, err
			}
			strategies[module] = s
		}
	}
	return strategies, nil
}
