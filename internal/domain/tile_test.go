package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIntoTiles(t *testing.T) {
	aoi := ProjBBox{MinX: 500100, MinY: 5300100, MaxX: 509900, MaxY: 5309900, EPSG: 32632}

	t.Run("grid covers the bbox with anchored square tiles", func(t *testing.T) {
		tiles, err := SplitIntoTiles(aoi, 5000)
		require.NoError(t, err)
		require.Len(t, tiles, 4)

		// Anchored to multiples of the edge length, not the bbox corner.
		assert.Equal(t, 500000.0, tiles[0].MinX)
		assert.Equal(t, 5300000.0, tiles[0].MinY)

		// West-to-east, south-to-north ordering.
		assert.Equal(t, 505000.0, tiles[1].MinX)
		assert.Equal(t, 5300000.0, tiles[1].MinY)
		assert.Equal(t, 5305000.0, tiles[2].MinY)

		for _, tile := range tiles {
			assert.Equal(t, 5000.0, tile.Width())
			assert.Equal(t, 5000.0, tile.Height())
			assert.Equal(t, 32632, tile.EPSG)
		}

		// The union covers the full extent.
		assert.LessOrEqual(t, tiles[0].MinX, aoi.MinX)
		assert.LessOrEqual(t, tiles[0].MinY, aoi.MinY)
		assert.GreaterOrEqual(t, tiles[3].MaxX, aoi.MaxX)
		assert.GreaterOrEqual(t, tiles[3].MaxY, aoi.MaxY)
	})

	t.Run("anchoring makes grids stable across differing extents", func(t *testing.T) {
		a, err := SplitIntoTiles(aoi, 5000)
		require.NoError(t, err)
		shifted := ProjBBox{MinX: 501300, MinY: 5301300, MaxX: 509900, MaxY: 5309900, EPSG: 32632}
		b, err := SplitIntoTiles(shifted, 5000)
		require.NoError(t, err)
		assert.Equal(t, a[0].ProjBBox, b[0].ProjBBox)
	})

	t.Run("rejects invalid edge lengths", func(t *testing.T) {
		_, err := SplitIntoTiles(aoi, 0)
		assert.Error(t, err)
		_, err = SplitIntoTiles(aoi, -100)
		assert.Error(t, err)
	})

	t.Run("rejects degenerate bboxes", func(t *testing.T) {
		_, err := SplitIntoTiles(ProjBBox{MinX: 1, MinY: 1, MaxX: 1, MaxY: 2}, 100)
		assert.Error(t, err)
	})
}

func TestTileID(t *testing.T) {
	tile := Tile{ProjBBox{MinX: 500000, MinY: 5300000, MaxX: 505000, MaxY: 5305000, EPSG: 32632}}

	t.Run("deterministic for the same bbox and date", func(t *testing.T) {
		assert.Equal(t, tile.ID("2023-08-15"), tile.ID("2023-08-15"))
	})

	t.Run("different dates yield different ids", func(t *testing.T) {
		assert.NotEqual(t, tile.ID("2023-08-15"), tile.ID("2023-08-16"))
	})

	t.Run("different bboxes yield different ids", func(t *testing.T) {
		other := Tile{ProjBBox{MinX: 505000, MinY: 5300000, MaxX: 510000, MaxY: 5305000, EPSG: 32632}}
		assert.NotEqual(t, tile.ID("2023-08-15"), other.ID("2023-08-15"))
	})

	t.Run("id is a hex digest", func(t *testing.T) {
		assert.Len(t, tile.ID("2023-08-15"), 32)
	})
}

func TestTilePixelDimensions(t *testing.T) {
	tile := Tile{ProjBBox{MinX: 0, MinY: 0, MaxX: 5000, MaxY: 5000}}

	w, h := tile.PixelDimensions(10)
	assert.Equal(t, 500, w)
	assert.Equal(t, 500, h)

	w, h = tile.PixelDimensions(30)
	assert.Equal(t, 167, w)
	assert.Equal(t, 167, h)
}

func TestBBoxValidate(t *testing.T) {
	valid := BBox{MinLon: 9.0, MinLat: 48.0, MaxLon: 9.1, MaxLat: 48.1}
	assert.NoError(t, valid.Validate())

	inverted := BBox{MinLon: 9.1, MinLat: 48.0, MaxLon: 9.0, MaxLat: 48.1}
	assert.Error(t, inverted.Validate())
}

func TestUTMZoneEPSG(t *testing.T) {
	tests := []struct {
		name string
		lon  float64
		want int
	}{
		{"stuttgart", 9.18, 32632},
		{"greenwich", 0.0, 32631},
		{"new york", -74.0, 32618},
		{"tokyo", 139.7, 32654},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UTMZoneEPSG(tt.lon))
		})
	}
}
