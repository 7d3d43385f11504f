package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
)

// Tile is one cell of the acquisition grid, in a projected UTM frame.
type Tile struct {
	ProjBBox
}

// ID derives the deterministic identifier used as the tile's download
// directory name. The same bbox and date always hash to the same ID, which
// is the idempotency key for the on-disk cache; a different date yields a
// different ID.
func (t Tile) ID(date string) string {
	input := fmt.Sprintf("%g_%g_%g_%g_%s", t.MinX, t.MinY, t.MaxX, t.MaxY, date)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// SplitIntoTiles covers the projected AOI bbox with a grid of square tiles
// of the given edge length. The grid is anchored to multiples of the edge
// length so tile boundaries are stable across runs regardless of the exact
// AOI extent. The returned slice is ordered west-to-east, south-to-north,
// and its union always covers the input bbox with no gaps.
func SplitIntoTiles(aoi ProjBBox, edgeMeters float64) ([]Tile, error) {
	if edgeMeters <= 0 || math.IsNaN(edgeMeters) {
		return nil, fmt.Errorf("invalid tile edge length %g", edgeMeters)
	}
	if aoi.MinX >= aoi.MaxX || aoi.MinY >= aoi.MaxY {
		return nil, fmt.Errorf("projected bbox is inverted or degenerate: %+v", aoi)
	}

	startX := math.Floor(aoi.MinX/edgeMeters) * edgeMeters
	startY := math.Floor(aoi.MinY/edgeMeters) * edgeMeters

	var tiles []Tile
	for y := startY; y < aoi.MaxY; y += edgeMeters {
		for x := startX; x < aoi.MaxX; x += edgeMeters {
			tiles = append(tiles, Tile{ProjBBox{
				MinX: x,
				MinY: y,
				MaxX: x + edgeMeters,
				MaxY: y + edgeMeters,
				EPSG: aoi.EPSG,
			}})
		}
	}
	return tiles, nil
}

// PixelDimensions returns the raster width and height covering the tile at
// the given ground resolution in meters per pixel.
func (t Tile) PixelDimensions(resolutionMeters int) (width, height int) {
	width = int(math.Round(t.Width() / float64(resolutionMeters)))
	height = int(math.Round(t.Height() / float64(resolutionMeters)))
	return width, height
}
