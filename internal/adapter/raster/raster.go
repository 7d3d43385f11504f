// Package raster wraps GDAL (via godal) for every raster operation the
// pipeline needs: band reads, single-band GeoTIFF writes, virtual mosaics,
// AOI crops, and overview pyramids. All writes go through a temporary
// sibling path and are renamed into place, so a crash mid-write never leaves
// a partial file under the final name.
package raster

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"

	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// Register initializes the GDAL drivers. Call once at startup.
func Register() {
	godal.RegisterAll()
}

// Ops is the godal-backed implementation of the pipeline's raster
// operations.
type Ops struct{}

// ProjectBBox reprojects a WGS-84 bbox into the given EPSG code and returns
// its envelope.
func (Ops) ProjectBBox(b domain.BBox, epsg int) (domain.ProjBBox, error) {
	src, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return domain.ProjBBox{}, fmt.Errorf("create EPSG:4326 spatial ref: %w", err)
	}
	defer src.Close()
	dst, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return domain.ProjBBox{}, fmt.Errorf("create EPSG:%d spatial ref: %w", epsg, err)
	}
	defer dst.Close()

	return transformEnvelope(src, dst, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat, epsg)
}

// ReadBands reads every band of the raster into float64 arrays along with
// its spatial metadata. A raster that cannot be opened or read is reported
// as a resource-parse failure.
func (Ops) ReadBands(path string) ([][]float64, domain.RasterMeta, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, domain.RasterMeta{}, &domain.ResourceParseError{Resource: path, Err: err}
	}
	defer ds.Close()

	structure := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, domain.RasterMeta{}, &domain.ResourceParseError{Resource: path, Err: err}
	}

	meta := domain.RasterMeta{
		Width:        structure.SizeX,
		Height:       structure.SizeY,
		GeoTransform: gt,
		Projection:   ds.Projection(),
		NoData:       domain.NoData,
	}

	bands := ds.Bands()
	data := make([][]float64, len(bands))
	for i, band := range bands {
		buf := make([]float64, structure.SizeX*structure.SizeY)
		if err := band.Read(0, 0, buf, structure.SizeX, structure.SizeY); err != nil {
			return nil, domain.RasterMeta{}, &domain.ResourceParseError{
				Resource: path,
				Err:      fmt.Errorf("read band %d: %w", i+1, err),
			}
		}
		data[i] = buf
	}
	return data, meta, nil
}

// WriteIndexRaster writes a single-band float32 GeoTIFF carrying the given
// data, aligned with the source raster's geotransform and projection.
func (Ops) WriteIndexRaster(path string, data []float64, meta domain.RasterMeta) error {
	if len(data) != meta.Pixels() {
		return fmt.Errorf("data length %d does not match %dx%d raster", len(data), meta.Width, meta.Height)
	}
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}

	tmp := fsutil.TempSibling(path)
	defer os.Remove(tmp)

	ds, err := godal.Create(godal.GTiff, tmp, 1, godal.Float32, meta.Width, meta.Height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}

	if err := writeSingleBand(ds, data, meta); err != nil {
		ds.Close()
		return &domain.FilesystemError{Path: path, Err: err}
	}
	if err := ds.Close(); err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	return nil
}

// BuildMosaic builds the virtual tile index over all tile rasters for one
// date and materializes it into a tiled GeoTIFF. Both steps are skipped when
// their target already exists.
func (Ops) BuildMosaic(vrtPath, outPath string, tilePaths []string, nodata float64) error {
	if err := fsutil.EnsureDir(filepath.Dir(vrtPath)); err != nil {
		return &domain.FilesystemError{Path: vrtPath, Err: err}
	}

	if !fsutil.Exists(vrtPath) {
		nd := fmt.Sprintf("%g", nodata)
		vrt, err := godal.BuildVRT(vrtPath, tilePaths, []string{
			"-srcnodata", nd,
			"-vrtnodata", nd,
		})
		if err != nil {
			return fmt.Errorf("build vrt %s: %w", vrtPath, err)
		}
		if err := vrt.Close(); err != nil {
			return &domain.FilesystemError{Path: vrtPath, Err: err}
		}
	}

	if fsutil.Exists(outPath) {
		return nil
	}

	vrt, err := godal.Open(vrtPath)
	if err != nil {
		return &domain.ResourceParseError{Resource: vrtPath, Err: err}
	}
	defer vrt.Close()

	tmp := fsutil.TempSibling(outPath)
	defer os.Remove(tmp)
	out, err := vrt.Translate(tmp, []string{"-co", "TILED=YES"})
	if err != nil {
		return fmt.Errorf("materialize %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return &domain.FilesystemError{Path: outPath, Err: err}
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return &domain.FilesystemError{Path: outPath, Err: err}
	}
	return nil
}

// Crop reprojects the AOI bbox into the raster's native reference system and
// writes the windowed subset to dstPath.
func (Ops) Crop(srcPath, dstPath string, aoi domain.BBox) error {
	ds, err := godal.Open(srcPath)
	if err != nil {
		return &domain.ResourceParseError{Resource: srcPath, Err: err}
	}
	defer ds.Close()

	src4326, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return fmt.Errorf("create EPSG:4326 spatial ref: %w", err)
	}
	defer src4326.Close()

	native := ds.SpatialRef()
	box, err := transformEnvelope(src4326, native, aoi.MinLon, aoi.MinLat, aoi.MaxLon, aoi.MaxLat, 0)
	if err != nil {
		return fmt.Errorf("reproject aoi into %s: %w", srcPath, err)
	}

	if err := fsutil.EnsureDir(filepath.Dir(dstPath)); err != nil {
		return &domain.FilesystemError{Path: dstPath, Err: err}
	}

	tmp := fsutil.TempSibling(dstPath)
	defer os.Remove(tmp)
	out, err := ds.Translate(tmp, []string{
		"-projwin",
		fmt.Sprintf("%f", box.MinX), fmt.Sprintf("%f", box.MaxY),
		fmt.Sprintf("%f", box.MaxX), fmt.Sprintf("%f", box.MinY),
		"-co", "TILED=YES",
	})
	if err != nil {
		return fmt.Errorf("crop %s: %w", srcPath, err)
	}
	if err := out.Close(); err != nil {
		return &domain.FilesystemError{Path: dstPath, Err: err}
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		return &domain.FilesystemError{Path: dstPath, Err: err}
	}
	return nil
}

// BuildOverviews builds the power-of-two overview pyramid in place. Skipped
// when the raster already carries overviews.
func (Ops) BuildOverviews(path string, levels []int) error {
	ds, err := godal.Open(path, godal.Update())
	if err != nil {
		return &domain.ResourceParseError{Resource: path, Err: err}
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) > 0 && len(bands[0].Overviews()) > 0 {
		return nil
	}

	if err := ds.BuildOverviews(godal.Levels(levels...), godal.Resampling(godal.Cubic)); err != nil {
		return fmt.Errorf("build overviews for %s: %w", path, err)
	}
	return nil
}

func writeSingleBand(ds *godal.Dataset, data []float64, meta domain.RasterMeta) error {
	if err := ds.SetGeoTransform(meta.GeoTransform); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	if meta.Projection != "" {
		if err := ds.SetProjection(meta.Projection); err != nil {
			return fmt.Errorf("set projection: %w", err)
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(meta.NoData); err != nil {
		return fmt.Errorf("set nodata: %w", err)
	}
	if err := band.Write(0, 0, data, meta.Width, meta.Height); err != nil {
		return fmt.Errorf("write band: %w", err)
	}
	return nil
}

func transformEnvelope(src, dst *godal.SpatialRef, minX, minY, maxX, maxY float64, epsg int) (domain.ProjBBox, error) {
	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return domain.ProjBBox{}, fmt.Errorf("create coordinate transform: %w", err)
	}
	defer tr.Close()

	// Transform all four corners; the projected envelope of a geographic
	// bbox is not spanned by two corners alone.
	xs := []float64{minX, maxX, minX, maxX}
	ys := []float64{minY, minY, maxY, maxY}
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return domain.ProjBBox{}, fmt.Errorf("transform bbox corners: %w", err)
	}

	out := domain.ProjBBox{MinX: xs[0], MinY: ys[0], MaxX: xs[0], MaxY: ys[0], EPSG: epsg}
	for i := 1; i < 4; i++ {
		if xs[i] < out.MinX {
			out.MinX = xs[i]
		}
		if xs[i] > out.MaxX {
			out.MaxX = xs[i]
		}
		if ys[i] < out.MinY {
			out.MinY = ys[i]
		}
		if ys[i] > out.MaxY {
			out.MaxY = ys[i]
		}
	}
	return out, nil
}
