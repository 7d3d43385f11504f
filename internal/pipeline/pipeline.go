// Package pipeline orchestrates the full pass over one area of interest:
// candidate-day selection, tiled imagery acquisition, per-date mosaicking,
// spectral index computation, temporal aggregation, and result finishing.
// Every stage is idempotent against the output tree, so a crashed or
// restarted pass resumes where it left off instead of repeating paid
// retrievals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cityclimate/rasterflow/internal/adapter/kafka"
	"github.com/cityclimate/rasterflow/internal/adapter/sentinelhub"
	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/ledger"
	"github.com/cityclimate/rasterflow/internal/observability"
)

// rawNoData is the no-data value of provider tile rasters and their mosaics.
// Index rasters use domain.NoData instead.
const rawNoData = 0

// overviewLevels is the power-of-two pyramid built on every finished raster.
var overviewLevels = []int{2, 4, 8, 16, 32}

// Catalog answers which days have usable acquisitions over a bbox.
type Catalog interface {
	Search(ctx context.Context, bbox domain.BBox, from, to time.Time, maxCloudCover int, collection string) ([]string, error)
}

// Retriever fetches the raster for one tile request.
type Retriever interface {
	Retrieve(ctx context.Context, req *sentinelhub.ProcessRequest) ([]byte, error)
}

// RasterOps is the raster backend the pipeline drives. The godal adapter
// implements it in production; tests substitute an in-memory fake.
type RasterOps interface {
	ProjectBBox(b domain.BBox, epsg int) (domain.ProjBBox, error)
	ReadBands(path string) ([][]float64, domain.RasterMeta, error)
	WriteIndexRaster(path string, data []float64, meta domain.RasterMeta) error
	BuildMosaic(vrtPath, outPath string, tilePaths []string, nodata float64) error
	Crop(srcPath, dstPath string, aoi domain.BBox) error
	BuildOverviews(path string, levels []int) error
}

// WeatherSource yields the days whose ground conditions justify acquisition.
type WeatherSource interface {
	SuitableDays(ctx context.Context) ([]string, error)
}

// Notifier publishes layer events for finished rasters.
type Notifier interface {
	Publish(ctx context.Context, event kafka.LayerEvent) error
}

// Deps bundles the pipeline's collaborators. Weather and Notifier are
// optional; a nil Weather disables day gating and a nil Notifier disables
// layer events.
type Deps struct {
	Catalog   Catalog
	Retriever Retriever
	Raster    RasterOps
	Weather   WeatherSource
	Notifier  Notifier
	Ledger    *ledger.Ledger
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Pipeline runs the acquisition and aggregation workflow for one area.
type Pipeline struct {
	cfg        *config.Config
	layout     config.Layout
	strategies map[string]domain.Strategy

	catalog   Catalog
	retriever Retriever
	raster    RasterOps
	weather   WeatherSource
	notifier  Notifier
	led       *ledger.Ledger
	metrics   *observability.Metrics
	logger    *slog.Logger

	ready atomic.Bool
}

// New creates a pipeline over the configured modules. strategies maps each
// module name to the sensor strategy serving it; the set is fixed at
// construction time.
func New(cfg *config.Config, strategies map[string]domain.Strategy, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		layout:     config.NewLayout(cfg.DataDir, cfg.AreaName),
		strategies: strategies,
		catalog:    deps.Catalog,
		retriever:  deps.Retriever,
		raster:     deps.Raster,
		weather:    deps.Weather,
		notifier:   deps.Notifier,
		led:        deps.Ledger,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Run executes one complete pass over all configured modules. A module with
// no candidate days is logged and skipped; per-unit failures inside a module
// never abort the pass. Run returns an error only for failures that
// invalidate the whole pass, such as a broken configuration or a cancelled
// context.
func (p *Pipeline) Run(ctx context.Context) error {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	start := domain.Now()
	p.logger.Info("pipeline pass starting", "area", p.cfg.AreaName, "modules", p.cfg.Modules)

	weatherDays, err := p.suitableDays(ctx)
	if err != nil {
		return fmt.Errorf("weather gating: %w", err)
	}

	for _, module := range p.cfg.Modules {
		strategy, ok := p.strategies[module]
		if !ok {
			return fmt.Errorf("no sensor strategy bound to module %q", module)
		}
		if err := p.runModule(ctx, module, strategy, weatherDays); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var empty *domain.EmptyResultError
			if errors.As(err, &empty) {
				p.logger.Warn("module produced no output", "module", module, "reason", err.Error())
				continue
			}
			return fmt.Errorf("module %s: %w", module, err)
		}
	}

	p.ready.Store(true)
	p.logger.Info("pipeline pass finished", "elapsed", domain.Now().Sub(start).String())
	return nil
}

// CheckReadiness reports healthy once at least one pass has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no pipeline pass has completed yet")
	}
	return nil
}

func (p *Pipeline) runModule(ctx context.Context, module string, strategy domain.Strategy, weatherDays []string) error {
	logger := p.logger.With("module", module, "sensor", strategy.Name())

	dates, err := p.candidateDates(ctx, strategy, weatherDays)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return &domain.EmptyResultError{What: "candidate acquisition days"}
	}

	tiles, err := p.tileAOI()
	if err != nil {
		return err
	}
	logger.Info("module plan", "dates", len(dates), "tiles", len(tiles))

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processDate(ctx, strategy, tiles, date, logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("date skipped", "date", date, "error", err)
		}
	}

	for _, index := range strategy.Indices() {
		if err := p.aggregateIndex(index, logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("aggregation skipped", "index", index, "error", err)
			p.metrics.StageErrors.WithLabelValues("aggregate").Inc()
			continue
		}
		if err := p.finishIndex(ctx, index, logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("finishing incomplete", "index", index, "error", err)
			p.metrics.StageErrors.WithLabelValues("result").Inc()
		}
	}
	return nil
}

// isFilesystemFailure reports whether the error is a filesystem failure.
// Those indicate a misconfigured or unwritable data directory and abort the
// whole pass instead of being skipped per unit.
func isFilesystemFailure(err error) bool {
	var fsErr *domain.FilesystemError
	return errors.As(err, &fsErr)
}

// processDate runs acquire, mosaic, and index computation for one date. A
// failure in any stage skips the date; other dates keep going.
func (p *Pipeline) processDate(ctx context.Context, strategy domain.Strategy, tiles []domain.Tile, date string, logger *slog.Logger) error {
	if err := p.acquireDate(ctx, strategy, tiles, date, logger); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	mosaicStart := domain.Now()
	mosaicPath, err := p.mosaicDate(strategy, date)
	if err != nil {
		p.metrics.StageErrors.WithLabelValues("mosaic").Inc()
		return fmt.Errorf("mosaic: %w", err)
	}
	p.metrics.StageDuration.WithLabelValues("mosaic").Observe(domain.Now().Sub(mosaicStart).Seconds())

	indexStart := domain.Now()
	if err := p.computeTimesteps(strategy, date, mosaicPath, logger); err != nil {
		p.metrics.StageErrors.WithLabelValues("index").Inc()
		return fmt.Errorf("compute indices: %w", err)
	}
	p.metrics.StageDuration.WithLabelValues("index").Observe(domain.Now().Sub(indexStart).Seconds())
	return nil
}

// candidateDates intersects the catalog's acquisition days with the weather
// gate. Without a weather source every catalog day is a candidate.
func (p *Pipeline) candidateDates(ctx context.Context, strategy domain.Strategy, weatherDays []string) ([]string, error) {
	from := time.Date(p.cfg.MinYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := domain.Now().UTC()

	dates, err := p.catalog.Search(ctx, p.cfg.AOI, from, to, p.cfg.MaxCloudCover, strategy.Collection())
	if err != nil {
		p.metrics.CatalogRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	if len(dates) == 0 {
		p.metrics.CatalogRequests.WithLabelValues("empty").Inc()
		return nil, nil
	}
	p.metrics.CatalogRequests.WithLabelValues("success").Inc()

	if p.weather == nil {
		sort.Strings(dates)
		return dates, nil
	}

	gate := make(map[string]bool, len(weatherDays))
	for _, d := range weatherDays {
		gate[d] = true
	}
	var gated []string
	for _, d := range dates {
		if gate[d] {
			gated = append(gated, d)
		}
	}
	sort.Strings(gated)
	return gated, nil
}

func (p *Pipeline) suitableDays(ctx context.Context) ([]string, error) {
	if p.weather == nil {
		return nil, nil
	}
	days, err := p.weather.SuitableDays(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("weather gate loaded", "suitable_days", len(days))
	return days, nil
}

// tileAOI projects the AOI into its UTM zone and covers it with the
// acquisition grid.
func (p *Pipeline) tileAOI() ([]domain.Tile, error) {
	lon, _ := p.cfg.AOI.Center()
	epsg := domain.UTMZoneEPSG(lon)

	proj, err := p.raster.ProjectBBox(p.cfg.AOI, epsg)
	if err != nil {
		return nil, fmt.Errorf("project aoi into EPSG:%d: %w", epsg, err)
	}
	tiles, err := domain.SplitIntoTiles(proj, p.cfg.TileEdgeMeters)
	if err != nil {
		return nil, err
	}
	return tiles, nil
}
