package domain

import (
	"fmt"
	"math"
)

// BBox is a geographic bounding box in WGS-84 lon/lat order.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Validate rejects non-finite or inverted coordinates.
func (b BBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox has non-finite coordinate: %+v", b)
		}
	}
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("bbox is inverted or degenerate: %+v", b)
	}
	return nil
}

// Center returns the centroid lon/lat.
func (b BBox) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// ProjBBox is a bounding box in a projected coordinate reference system,
// identified by its EPSG code.
type ProjBBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
	EPSG       int
}

// Width returns the horizontal extent in projected units (meters for UTM).
func (b ProjBBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent in projected units.
func (b ProjBBox) Height() float64 { return b.MaxY - b.MinY }

// UTMZoneEPSG returns the EPSG code of the northern-hemisphere UTM zone
// containing the given longitude.
func UTMZoneEPSG(lon float64) int {
	zone := int((lon+180)/6) + 1
	return 32600 + zone
}
