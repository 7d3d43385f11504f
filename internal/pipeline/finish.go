package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cityclimate/rasterflow/internal/adapter/kafka"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// finishIndex mirrors every timestep and aggregate raster of one index into
// the results tree: cropped to the exact AOI, carrying an overview pyramid,
// and announced to the notification sink. Finishing is idempotent; an
// existing result is only re-checked for overviews.
func (p *Pipeline) finishIndex(ctx context.Context, index string, logger *slog.Logger) error {
	category := domain.CategoryForIndex(index)
	start := domain.Now()

	timesteps, err := filepath.Glob(filepath.Join(p.layout.TimestepsDir(category, index), index+"_*.tiff"))
	if err != nil {
		return err
	}
	for _, src := range timesteps {
		day, err := domain.TimestepDate(src, index)
		if err != nil {
			continue
		}
		if err := p.finishRaster(ctx, src, index, "timestep", day, logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("result skipped", "source", src, "error", err)
			p.metrics.StageErrors.WithLabelValues("result").Inc()
		}
	}

	aggregates, err := filepath.Glob(filepath.Join(p.layout.IndexBase(category, index), "aggregates", "*", index+"_*.tiff"))
	if err != nil {
		return err
	}
	for _, src := range aggregates {
		key := cohortKeyFromPath(src, index)
		kind := "yearly"
		if strings.HasPrefix(key, "month_") {
			kind = "monthly"
		}
		if err := p.finishRaster(ctx, src, index, kind, key, logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("result skipped", "source", src, "error", err)
			p.metrics.StageErrors.WithLabelValues("result").Inc()
		}
	}

	p.metrics.StageDuration.WithLabelValues("result").Observe(domain.Now().Sub(start).Seconds())
	return nil
}

// finishRaster crops one processing raster into the results tree, builds its
// overview pyramid, and publishes the layer event.
func (p *Pipeline) finishRaster(ctx context.Context, src, index, kind, key string, logger *slog.Logger) error {
	dst, err := p.layout.ResultPath(src)
	if err != nil {
		return err
	}

	if fsutil.Exists(dst) {
		// Already finished in an earlier pass; only the pyramid is re-checked.
		return p.raster.BuildOverviews(dst, overviewLevels)
	}

	if err := p.raster.Crop(src, dst, p.cfg.AOI); err != nil {
		return err
	}
	if err := p.raster.BuildOverviews(dst, overviewLevels); err != nil {
		return err
	}
	p.metrics.RastersWritten.WithLabelValues("result").Inc()
	logger.Info("result written", "index", index, "kind", kind, "key", key, "path", dst)

	if p.notifier == nil {
		return nil
	}
	event := kafka.LayerEvent{
		Area:     p.cfg.AreaName,
		Category: domain.CategoryForIndex(index),
		Index:    index,
		Kind:     kind,
		Key:      key,
		Path:     dst,
	}
	if err := p.notifier.Publish(ctx, event); err != nil {
		// The raster is finished either way; a lost event is retried on the
		// next pass only if the result is rebuilt, so log it loudly.
		logger.Error("layer event publish failed", "index", index, "key", key, "error", err)
		return nil
	}
	p.metrics.NotifyEvents.Inc()
	return nil
}

func cohortKeyFromPath(path, index string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".tiff")
	return strings.TrimPrefix(name, index+"_")
}
