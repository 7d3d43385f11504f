// Command genscene generates a synthetic download tree for one acquisition
// date: a complete (tile, date) unit for every grid tile, each with a
// request descriptor and a small multi-band GeoTIFF. It uses the actual
// domain tiling and request construction, so the fixtures match real
// pipeline layout byte for byte and let the later stages run without any
// provider credentials.
//
// Usage:
//
//	go run ./cmd/genscene \
//	  -data-dir ./data \
//	  -bbox 9.0,48.0,9.1,48.1 \
//	  -date 2023-08-15 \
//	  -sensor sentinel2 \
//	  -evalscript-dir ./configs/evalscripts
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/cityclimate/rasterflow/internal/adapter/raster"
	"github.com/cityclimate/rasterflow/internal/adapter/sentinelhub"
	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "./data", "root of the output tree")
	bboxStr := flag.String("bbox", "", "area of interest as min_lon,min_lat,max_lon,max_lat")
	date := flag.String("date", "", "acquisition date (YYYY-MM-DD)")
	sensor := flag.String("sensor", "sentinel2", "sensor strategy: sentinel2 or landsat")
	edge := flag.Float64("edge", 5000, "tile edge length in meters")
	evalscriptDir := flag.String("evalscript-dir", "./configs/evalscripts", "directory holding the retrieval scripts")
	flag.Parse()

	if *bboxStr == "" || *date == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -bbox, -date")
	}
	day, err := domain.ParseDay(*date)
	if err != nil {
		return err
	}
	aoi, err := parseBBox(*bboxStr)
	if err != nil {
		return err
	}

	var strategy domain.Strategy
	switch *sensor {
	case "sentinel2":
		strategy, err = domain.NewSentinel2(filepath.Join(*evalscriptDir, "sentinel2.js"))
	case "landsat":
		strategy, err = domain.NewLandsat(filepath.Join(*evalscriptDir, "landsat.js"))
	default:
		return fmt.Errorf("unknown sensor %q", *sensor)
	}
	if err != nil {
		return err
	}

	raster.Register()

	lon, _ := aoi.Center()
	epsg := domain.UTMZoneEPSG(lon)
	proj, err := raster.Ops{}.ProjectBBox(aoi, epsg)
	if err != nil {
		return err
	}
	tiles, err := domain.SplitIntoTiles(proj, *edge)
	if err != nil {
		return err
	}

	layout := config.NewLayout(*dataDir, "")
	from, to, err := domain.DayWindow(day)
	if err != nil {
		return err
	}

	for _, tile := range tiles {
		id := tile.ID(day)
		dir := layout.UnitDir(strategy.Name(), day, id)
		if err := fsutil.EnsureDir(dir); err != nil {
			return err
		}

		req := sentinelhub.NewProcessRequest(strategy, tile, from, to)
		reqJSON, err := json.MarshalIndent(req, "", "  ")
		if err != nil {
			return err
		}

		if err := writeSyntheticRaster(filepath.Join(dir, "response.tiff"), tile, strategy); err != nil {
			return fmt.Errorf("tile %s: %w", id, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "request.json"), reqJSON, 0o644); err != nil {
			return err
		}
		log.Printf("unit written: %s", dir)
	}

	log.Printf("generated %d units for %s on %s", len(tiles), strategy.Name(), day)
	return nil
}

// writeSyntheticRaster creates a small GeoTIFF with one band per declared
// band, filled with smooth per-band gradients so downstream indices come out
// non-degenerate.
func writeSyntheticRaster(path string, tile domain.Tile, strategy domain.Strategy) error {
	width, height := tile.PixelDimensions(strategy.Resolution())
	// Cap the fixture size; fixtures exercise layout, not resolution.
	if width > 64 {
		width = 64
	}
	if height > 64 {
		height = 64
	}

	ds, err := godal.Create(godal.GTiff, path, len(strategy.BandOrder()), godal.Float32, width, height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return err
	}
	defer ds.Close()

	pixelW := tile.Width() / float64(width)
	pixelH := tile.Height() / float64(height)
	if err := ds.SetGeoTransform([6]float64{tile.MinX, pixelW, 0, tile.MaxY, 0, -pixelH}); err != nil {
		return err
	}
	sr, err := godal.NewSpatialRefFromEPSG(tile.EPSG)
	if err != nil {
		return err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return err
	}

	for b, band := range ds.Bands() {
		buf := make([]float64, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				// Band-shifted sine field keeps each band distinct.
				buf[y*width+x] = 0.2 + 0.1*float64(b+1)*
					(1+math.Sin(float64(x+y+b*7)/9))
			}
		}
		if err := band.Write(0, 0, buf, width, height); err != nil {
			return err
		}
	}
	return nil
}

func parseBBox(s string) (domain.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BBox{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}, fmt.Errorf("bbox component %q: %w", p, err)
		}
		vals[i] = v
	}
	b := domain.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := b.Validate(); err != nil {
		return domain.BBox{}, err
	}
	return b, nil
}
