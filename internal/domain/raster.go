package domain

// RasterMeta carries the spatial metadata of a raster file: enough to write
// a derived single-band raster aligned with its source.
type RasterMeta struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	Projection   string // WKT
	NoData       float64
}

// Pixels returns the number of cells in one band.
func (m RasterMeta) Pixels() int { return m.Width * m.Height }
