package config

import (
	"fmt"
	"path/filepath"
)

// Layout maps the on-disk output tree. The structure is a contract for
// downstream consumers:
//
//	downloads/satellite_images/<sensor>/<date>/<tile_id>/{request.json, response.tiff}
//	processing/<area>/satellite_images/<sensor>/<date>/...
//	processing/<area>/<category>/<index>/timesteps/<index>_<date>.tiff
//	processing/<area>/<category>/<index>/aggregates/{yearly|monthly}/...
//	results/<area>/...  (cropped + pyramided mirror of processing)
type Layout struct {
	base string
	area string
}

// NewLayout creates the path layout rooted at the configured data directory.
func NewLayout(dataDir, area string) Layout {
	return Layout{base: dataDir, area: area}
}

func (l Layout) Downloads() string  { return filepath.Join(l.base, "downloads") }
func (l Layout) Processing() string { return filepath.Join(l.base, "processing") }
func (l Layout) Results() string    { return filepath.Join(l.base, "results") }
func (l Layout) Weather() string    { return filepath.Join(l.base, "downloads", "weather_data") }

// SensorDownloads is the root of all tile downloads for one sensor.
func (l Layout) SensorDownloads(sensor string) string {
	return filepath.Join(l.Downloads(), "satellite_images", sensor)
}

// UnitDir is the download directory for one (tile, date) acquisition unit.
func (l Layout) UnitDir(sensor, date, tileID string) string {
	return filepath.Join(l.SensorDownloads(sensor), date, tileID)
}

// MosaicDir holds the per-date virtual index and materialized mosaic.
func (l Layout) MosaicDir(sensor, date string) string {
	return filepath.Join(l.Processing(), l.area, "satellite_images", sensor, date)
}

// MosaicVRT is the virtual tile index path for one date.
func (l Layout) MosaicVRT(sensor, date string) string {
	return filepath.Join(l.MosaicDir(sensor, date), fmt.Sprintf("%s_%s_response.vrt", date, sensor))
}

// MosaicTIFF is the materialized mosaic path for one date.
func (l Layout) MosaicTIFF(sensor, date string) string {
	return filepath.Join(l.MosaicDir(sensor, date), fmt.Sprintf("%s_%s_response.tiff", date, sensor))
}

// IndexBase is the per-index root under the index's category.
func (l Layout) IndexBase(category, index string) string {
	return filepath.Join(l.Processing(), l.area, category, index)
}

// TimestepsDir holds the per-date index rasters.
func (l Layout) TimestepsDir(category, index string) string {
	return filepath.Join(l.IndexBase(category, index), "timesteps")
}

// TimestepFile is the per-date raster path for one index.
func (l Layout) TimestepFile(category, index, date string) string {
	return filepath.Join(l.TimestepsDir(category, index), fmt.Sprintf("%s_%s.tiff", index, date))
}

// AggregateFile is the composite raster path for one cohort key. Keys
// starting with "year_" land in yearly/, "month_" keys in monthly/.
func (l Layout) AggregateFile(category, index, key string) string {
	granularity := "yearly"
	if len(key) > 6 && key[:6] == "month_" {
		granularity = "monthly"
	}
	return filepath.Join(l.IndexBase(category, index), "aggregates", granularity, fmt.Sprintf("%s_%s.tiff", index, key))
}

// ResultPath mirrors a processing path into the results tree.
func (l Layout) ResultPath(processingPath string) (string, error) {
	rel, err := filepath.Rel(l.Processing(), processingPath)
	if err != nil {
		return "", fmt.Errorf("path %s is outside the processing tree: %w", processingPath, err)
	}
	return filepath.Join(l.Results(), rel), nil
}
