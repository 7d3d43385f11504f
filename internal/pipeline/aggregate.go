package pipeline

import (
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// aggregateIndex builds the yearly and monthly mean composites for one index
// from its timestep rasters. Each cohort is computed once; an existing
// aggregate is left untouched.
func (p *Pipeline) aggregateIndex(index string, logger *slog.Logger) error {
	category := domain.CategoryForIndex(index)
	pattern := filepath.Join(p.layout.TimestepsDir(category, index), index+"_*.tiff")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return &domain.EmptyResultError{What: "timestep rasters for " + index}
	}

	cohorts := make(map[string][]string)
	for _, path := range matches {
		day, err := domain.TimestepDate(path, index)
		if err != nil {
			logger.Warn("ignoring unrecognized timestep file", "path", path, "error", err)
			continue
		}
		yearly, monthly, err := domain.CohortKeys(day)
		if err != nil {
			continue
		}
		cohorts[yearly] = append(cohorts[yearly], path)
		cohorts[monthly] = append(cohorts[monthly], path)
	}

	keys := make([]string, 0, len(cohorts))
	for key := range cohorts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := domain.Now()
	for _, key := range keys {
		outPath := p.layout.AggregateFile(category, index, key)
		if fsutil.Exists(outPath) {
			continue
		}
		if err := p.writeComposite(outPath, cohorts[key], logger); err != nil {
			if isFilesystemFailure(err) {
				return err
			}
			logger.Error("cohort skipped", "index", index, "cohort", key, "error", err)
			p.metrics.StageErrors.WithLabelValues("aggregate").Inc()
			continue
		}
		p.metrics.RastersWritten.WithLabelValues("aggregate").Inc()
		logger.Info("aggregate written", "index", index, "cohort", key, "members", len(cohorts[key]))
	}
	p.metrics.StageDuration.WithLabelValues("aggregate").Observe(domain.Now().Sub(start).Seconds())
	return nil
}

// writeComposite stacks the member rasters and writes their no-data-aware
// per-cell mean. Members whose dimensions disagree with the first one are
// dropped from the stack rather than poisoning the cohort.
func (p *Pipeline) writeComposite(outPath string, members []string, logger *slog.Logger) error {
	var (
		stack [][]float64
		meta  domain.RasterMeta
	)
	for _, path := range members {
		bands, m, err := p.raster.ReadBands(path)
		if err != nil {
			return err
		}
		if len(bands) == 0 {
			return &domain.EmptyResultError{What: "bands in " + path}
		}
		if len(stack) == 0 {
			meta = m
		} else if m.Width != meta.Width || m.Height != meta.Height {
			logger.Warn("dimension mismatch, dropping cohort member",
				"path", path, "got", []int{m.Width, m.Height}, "want", []int{meta.Width, meta.Height})
			continue
		}
		stack = append(stack, bands[0])
	}
	if len(stack) == 0 {
		return &domain.EmptyResultError{What: "usable cohort members for " + outPath}
	}

	mean := domain.MaskedMean(stack, domain.NoData)
	return p.raster.WriteIndexRaster(outPath, mean, meta)
}
