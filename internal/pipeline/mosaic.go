package pipeline

import (
	"path/filepath"
	"sort"

	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// mosaicDate stitches all completed tile rasters for one date into the
// per-date mosaic and returns its path. Tiles whose request descriptor is
// missing are treated as incomplete and excluded.
func (p *Pipeline) mosaicDate(strategy domain.Strategy, date string) (string, error) {
	pattern := filepath.Join(p.layout.UnitDir(strategy.Name(), date, "*"), responseFile)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}

	var sources []string
	for _, m := range matches {
		if fsutil.Exists(filepath.Join(filepath.Dir(m), requestFile)) {
			sources = append(sources, m)
		}
	}
	if len(sources) == 0 {
		return "", &domain.EmptyResultError{What: "completed tile rasters for " + date}
	}
	sort.Strings(sources)

	vrtPath := p.layout.MosaicVRT(strategy.Name(), date)
	outPath := p.layout.MosaicTIFF(strategy.Name(), date)
	existed := fsutil.Exists(outPath)

	if err := p.raster.BuildMosaic(vrtPath, outPath, sources, rawNoData); err != nil {
		return "", err
	}
	if !existed {
		p.metrics.RastersWritten.WithLabelValues("mosaic").Inc()
	}
	return outPath, nil
}
