package dwd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
)

// Gate combines archive download and filtering into the day source the
// pipeline consumes. The archive is cached under a date-stamped name, so at
// most one download happens per day.
type Gate struct {
	downloader *Downloader
	cfg        *config.Config
	weatherDir string
	logger     *slog.Logger
}

// NewGate creates the weather gate for the configured archive resource.
func NewGate(cfg *config.Config, weatherDir string, logger *slog.Logger) *Gate {
	return &Gate{
		downloader: NewDownloader(cfg.DWDBaseURL, cfg.RetrievalTimeout, logger),
		cfg:        cfg,
		weatherDir: weatherDir,
		logger:     logger,
	}
}

// SuitableDays fetches today's archive if needed and returns the filtered,
// sorted acquisition days.
func (g *Gate) SuitableDays(ctx context.Context) ([]string, error) {
	archivePath := filepath.Join(g.weatherDir, g.archiveName())
	if err := g.downloader.Fetch(ctx, g.cfg.DWDResource, archivePath); err != nil {
		return nil, err
	}
	days, err := SuitableDays(archivePath, g.cfg.MaxWindspeed, g.cfg.MinTemperature, g.cfg.MinYear)
	if err != nil {
		return nil, err
	}
	g.logger.Info("climate archive filtered",
		"archive", archivePath,
		"max_windspeed", g.cfg.MaxWindspeed,
		"min_temperature", g.cfg.MinTemperature,
		"suitable_days", len(days))
	return days, nil
}

func (g *Gate) archiveName() string {
	name := fmt.Sprintf("dwd_klima_%s.zip", domain.Now().UTC().Format(domain.DayFormat))
	if g.cfg.UseHistorical {
		name = "historical_" + name
	}
	return name
}
