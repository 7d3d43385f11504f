package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// computeTimesteps derives every index the sensor supports from the date's
// mosaic and writes each as a single-band timestep raster under the index's
// category. Indices whose timestep already exists are not recomputed, and the
// mosaic is only read when at least one index is missing.
func (p *Pipeline) computeTimesteps(strategy domain.Strategy, date, mosaicPath string, logger *slog.Logger) error {
	var pending []string
	for _, index := range strategy.Indices() {
		path := p.layout.TimestepFile(domain.CategoryForIndex(index), index, date)
		if !fsutil.Exists(path) {
			pending = append(pending, index)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	bands, meta, err := p.raster.ReadBands(mosaicPath)
	if err != nil {
		return err
	}
	// The raster must carry exactly the declared bands; anything else means
	// the retrieval script and the data disagree, and positional mapping
	// would silently bind the wrong band to the wrong role.
	order := strategy.BandOrder()
	if len(bands) != len(order) {
		return &domain.ResourceParseError{
			Resource: mosaicPath,
			Err:      fmt.Errorf("raster has %d bands, evalscript declares %d", len(bands), len(order)),
		}
	}

	named := make(map[string][]float64, len(order))
	for i, name := range order {
		named[name] = bands[i]
	}
	mapped, err := strategy.MapBands(named)
	if err != nil {
		return err
	}
	results, err := strategy.ComputeIndices(mapped, pending)
	if err != nil {
		return err
	}

	for index, data := range results {
		path := p.layout.TimestepFile(domain.CategoryForIndex(index), index, date)
		if err := p.raster.WriteIndexRaster(path, data, meta); err != nil {
			return err
		}
		p.metrics.RastersWritten.WithLabelValues("index").Inc()
		logger.Info("timestep written", "index", index, "date", date, "path", path)
	}
	return nil
}
