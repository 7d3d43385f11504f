package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityclimate/rasterflow/internal/adapter/kafka"
	"github.com/cityclimate/rasterflow/internal/adapter/sentinelhub"
	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
	"github.com/cityclimate/rasterflow/internal/ledger"
	"github.com/cityclimate/rasterflow/internal/observability"
	"github.com/cityclimate/rasterflow/internal/pipeline"
)

// --- fakes ---

type fakeCatalog struct {
	mu    sync.Mutex
	calls int
	dates []string
	err   error
}

func (f *fakeCatalog) Search(_ context.Context, _ domain.BBox, _, _ time.Time, _ int, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.dates, f.err
}

type fakeRetriever struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ *sentinelhub.ProcessRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("tiff-bytes"), nil
}

type fakeWeather struct {
	days []string
}

func (f *fakeWeather) SuitableDays(context.Context) ([]string, error) { return f.days, nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []kafka.LayerEvent
}

func (f *fakeNotifier) Publish(_ context.Context, e kafka.LayerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

// fakeRaster is an in-memory raster backend. It writes marker files so the
// pipeline's on-disk existence checks behave exactly as with real rasters,
// and keeps band data in maps.
type fakeRaster struct {
	mu          sync.Mutex
	mosaicBands int // bands reported for mosaics; 0 means 3
	bands       map[string][][]float64
	written     map[string][]float64
	overviews   map[string][]int
	crops       int
}

func newFakeRaster() *fakeRaster {
	return &fakeRaster{
		bands:     make(map[string][][]float64),
		written:   make(map[string][]float64),
		overviews: make(map[string][]int),
	}
}

func (f *fakeRaster) ProjectBBox(_ domain.BBox, epsg int) (domain.ProjBBox, error) {
	// A 10x10 km extent, two tiles per axis at a 5 km edge.
	return domain.ProjBBox{MinX: 500000, MinY: 5300000, MaxX: 510000, MaxY: 5310000, EPSG: epsg}, nil
}

func (f *fakeRaster) testMeta() domain.RasterMeta {
	return domain.RasterMeta{
		Width:        2,
		Height:       2,
		GeoTransform: [6]float64{500000, 5000, 0, 5310000, 0, -5000},
		NoData:       domain.NoData,
	}
}

func (f *fakeRaster) ReadBands(path string) ([][]float64, domain.RasterMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.written[path]; ok {
		return [][]float64{data}, f.testMeta(), nil
	}
	if bands, ok := f.bands[path]; ok {
		return bands, f.testMeta(), nil
	}
	return nil, domain.RasterMeta{}, &domain.ResourceParseError{Resource: path, Err: os.ErrNotExist}
}

func (f *fakeRaster) WriteIndexRaster(path string, data []float64, _ domain.RasterMeta) error {
	if err := fsutil.AtomicWriteFile(path, []byte("index"), 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[path] = data
	return nil
}

func (f *fakeRaster) BuildMosaic(vrtPath, outPath string, tilePaths []string, _ float64) error {
	if len(tilePaths) == 0 {
		return &domain.EmptyResultError{What: "tile rasters"}
	}
	if !fsutil.Exists(vrtPath) {
		if err := fsutil.AtomicWriteFile(vrtPath, []byte("vrt"), 0o644); err != nil {
			return err
		}
	}
	if fsutil.Exists(outPath) {
		return nil
	}
	if err := fsutil.AtomicWriteFile(outPath, []byte("mosaic"), 0o644); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.mosaicBands
	if n == 0 {
		n = 3
	}
	bands := make([][]float64, n)
	base := []float64{0.2, 0.8, 0.4}
	for i := range bands {
		v := 0.5
		if i < len(base) {
			v = base[i]
		}
		bands[i] = []float64{v, v, v, v}
	}
	f.bands[outPath] = bands
	return nil
}

func (f *fakeRaster) Crop(srcPath, dstPath string, _ domain.BBox) error {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	if err := fsutil.AtomicWriteFile(dstPath, raw, 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crops++
	return nil
}

func (f *fakeRaster) BuildOverviews(path string, levels []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overviews[path] = levels
	return nil
}

// --- helpers ---

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AreaName:       "stuttgart",
		AOI:            domain.BBox{MinLon: 9.0, MinLat: 48.0, MaxLon: 9.1, MaxLat: 48.1},
		TileEdgeMeters: 5000,
		MaxCloudCover:  25,
		Modules:        []string{config.ModuleVegetationIndices},
		MinYear:        2023,
		DataDir:        t.TempDir(),
		Workers:        2,
	}
}

func testStrategies(t *testing.T) map[string]domain.Strategy {
	t.Helper()
	script := `//VERSION=3
function setup() {
  return { input: [{ bands: ["B04", "B08", "B11"] }], output: { bands: 3, sampleType: "FLOAT32" } };
}
function evaluatePixel(sample) { return [sample.B04, sample.B08, sample.B11]; }`
	path := filepath.Join(t.TempDir(), "sentinel2.js")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))
	s, err := domain.NewSentinel2(path)
	require.NoError(t, err)
	return map[string]domain.Strategy{config.ModuleVegetationIndices: s}
}

func testLedger(t *testing.T, cfg *config.Config) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.json"))
	require.NoError(t, err)
	return l
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(cfg *config.Config, strategies map[string]domain.Strategy, deps pipeline.Deps) *pipeline.Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsForTesting()
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	return pipeline.New(cfg, strategies, deps)
}

// --- tests ---

func TestPipeline_Run_FullPass(t *testing.T) {
	cfg := testConfig(t)
	strategies := testStrategies(t)
	layout := config.NewLayout(cfg.DataDir, cfg.AreaName)

	catalog := &fakeCatalog{dates: []string{"2023-08-15"}}
	retriever := &fakeRetriever{}
	rast := newFakeRaster()
	notifier := &fakeNotifier{}

	p := newPipeline(cfg, strategies, pipeline.Deps{
		Catalog:   catalog,
		Retriever: retriever,
		Raster:    rast,
		Notifier:  notifier,
		Ledger:    testLedger(t, cfg),
	})

	require.Error(t, p.CheckReadiness(context.Background()), "not ready before a pass")
	require.NoError(t, p.Run(context.Background()))
	assert.NoError(t, p.CheckReadiness(context.Background()))

	t.Run("one retrieval per grid tile", func(t *testing.T) {
		assert.Equal(t, 4, retriever.calls)
	})

	t.Run("every unit has both files", func(t *testing.T) {
		pattern := filepath.Join(layout.UnitDir("SENTINEL2_L2A", "2023-08-15", "*"), "response.tiff")
		matches, err := filepath.Glob(pattern)
		require.NoError(t, err)
		require.Len(t, matches, 4)
		for _, m := range matches {
			assert.FileExists(t, filepath.Join(filepath.Dir(m), "request.json"))
		}
	})

	t.Run("mosaic materialized", func(t *testing.T) {
		assert.FileExists(t, layout.MosaicVRT("SENTINEL2_L2A", "2023-08-15"))
		assert.FileExists(t, layout.MosaicTIFF("SENTINEL2_L2A", "2023-08-15"))
	})

	t.Run("timesteps computed for both indices", func(t *testing.T) {
		ndviPath := layout.TimestepFile("vegetation_indices", "ndvi", "2023-08-15")
		ndvi, ok := rast.written[ndviPath]
		require.True(t, ok)
		require.Len(t, ndvi, 4)
		// (0.8-0.2)/(0.8+0.2) from the synthetic mosaic bands.
		assert.InDelta(t, 0.6, ndvi[0], 1e-6)

		ndmiPath := layout.TimestepFile("vegetation_indices", "ndmi", "2023-08-15")
		ndmi, ok := rast.written[ndmiPath]
		require.True(t, ok)
		assert.InDelta(t, 1.0/3.0, ndmi[0], 1e-6)
	})

	t.Run("yearly and monthly aggregates", func(t *testing.T) {
		for _, index := range []string{"ndvi", "ndmi"} {
			for _, key := range []string{"year_2023", "month_2023_08"} {
				path := layout.AggregateFile("vegetation_indices", index, key)
				data, ok := rast.written[path]
				require.True(t, ok, "missing aggregate %s", path)
				require.Len(t, data, 4)
			}
		}
		// A single-member cohort mean equals the timestep.
		agg := rast.written[layout.AggregateFile("vegetation_indices", "ndvi", "year_2023")]
		assert.InDelta(t, 0.6, agg[0], 1e-6)
	})

	t.Run("results mirror with overview pyramids", func(t *testing.T) {
		// 2 indices x (1 timestep + 2 aggregates).
		assert.Equal(t, 6, rast.crops)
		require.Len(t, rast.overviews, 6)
		for path, levels := range rast.overviews {
			assert.Contains(t, path, filepath.Join(cfg.DataDir, "results"))
			assert.Equal(t, []int{2, 4, 8, 16, 32}, levels)
		}
	})

	t.Run("layer events published", func(t *testing.T) {
		require.Len(t, notifier.events, 6)
		kinds := map[string]int{}
		for _, e := range notifier.events {
			kinds[e.Kind]++
			assert.Equal(t, "stuttgart", e.Area)
			assert.Equal(t, "vegetation_indices", e.Category)
			assert.NotEmpty(t, e.Path)
		}
		assert.Equal(t, 2, kinds["timestep"])
		assert.Equal(t, 2, kinds["yearly"])
		assert.Equal(t, 2, kinds["monthly"])
	})
}

func TestPipeline_Run_SecondPassIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	strategies := testStrategies(t)

	catalog := &fakeCatalog{dates: []string{"2023-08-15"}}
	first := newPipeline(cfg, strategies, pipeline.Deps{
		Catalog:   catalog,
		Retriever: &fakeRetriever{},
		Raster:    newFakeRaster(),
		Ledger:    testLedger(t, cfg),
	})
	require.NoError(t, first.Run(context.Background()))

	// Fresh collaborators over the same tree: nothing may be refetched or
	// rewritten.
	retriever := &fakeRetriever{}
	rast := newFakeRaster()
	notifier := &fakeNotifier{}
	second := newPipeline(cfg, strategies, pipeline.Deps{
		Catalog:   catalog,
		Retriever: retriever,
		Raster:    rast,
		Notifier:  notifier,
		Ledger:    testLedger(t, cfg),
	})
	require.NoError(t, second.Run(context.Background()))

	assert.Zero(t, retriever.calls, "satisfied units must not be refetched")
	assert.Empty(t, rast.written, "existing rasters must not be rewritten")
	assert.Zero(t, rast.crops, "existing results must not be recropped")
	assert.Empty(t, notifier.events, "unchanged results emit no events")
	assert.Len(t, rast.overviews, 6, "pyramids are still verified")
}

func TestPipeline_Run_WeatherGateFiltersDates(t *testing.T) {
	cfg := testConfig(t)
	strategies := testStrategies(t)

	retriever := &fakeRetriever{}
	p := newPipeline(cfg, strategies, pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15", "2023-08-20"}},
		Retriever: retriever,
		Raster:    newFakeRaster(),
		Weather:   &fakeWeather{days: []string{"2023-08-15", "2023-07-01"}},
		Ledger:    testLedger(t, cfg),
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 4, retriever.calls, "only the gated date is acquired")
}

func TestPipeline_Run_EmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	retriever := &fakeRetriever{}
	p := newPipeline(cfg, testStrategies(t), pipeline.Deps{
		Catalog:   &fakeCatalog{},
		Retriever: retriever,
		Raster:    newFakeRaster(),
		Ledger:    testLedger(t, cfg),
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Zero(t, retriever.calls)
	assert.NoError(t, p.CheckReadiness(context.Background()), "an empty pass still completes")
}

func TestPipeline_Run_RetrievalFailuresAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	retriever := &fakeRetriever{err: fmt.Errorf("provider down")}
	rast := newFakeRaster()
	p := newPipeline(cfg, testStrategies(t), pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15"}},
		Retriever: retriever,
		Raster:    rast,
		Ledger:    testLedger(t, cfg),
	})

	require.NoError(t, p.Run(context.Background()), "unit failures never abort the pass")
	assert.Equal(t, 4, retriever.calls)
	assert.Empty(t, rast.written)
}

// failingWriteRaster simulates an unwritable output tree.
type failingWriteRaster struct {
	*fakeRaster
}

func (f *failingWriteRaster) WriteIndexRaster(path string, _ []float64, _ domain.RasterMeta) error {
	return &domain.FilesystemError{Path: path, Err: os.ErrPermission}
}

func TestPipeline_Run_FilesystemFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(cfg, testStrategies(t), pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15"}},
		Retriever: &fakeRetriever{},
		Raster:    &failingWriteRaster{newFakeRaster()},
		Ledger:    testLedger(t, cfg),
	})

	err := p.Run(context.Background())
	require.Error(t, err, "an unwritable output tree aborts the pass")
	var fsErr *domain.FilesystemError
	assert.ErrorAs(t, err, &fsErr)
}

func TestPipeline_Run_BandCountMismatchSkipsDate(t *testing.T) {
	cfg := testConfig(t)
	rast := newFakeRaster()
	rast.mosaicBands = 2 // evalscript declares 3
	p := newPipeline(cfg, testStrategies(t), pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15"}},
		Retriever: &fakeRetriever{},
		Raster:    rast,
		Ledger:    testLedger(t, cfg),
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, rast.written, "no index may be computed from a mismatched raster")
}

func TestPipeline_Run_MissingStrategyFails(t *testing.T) {
	cfg := testConfig(t)
	p := newPipeline(cfg, map[string]domain.Strategy{}, pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15"}},
		Retriever: &fakeRetriever{},
		Raster:    newFakeRaster(),
		Ledger:    testLedger(t, cfg),
	})

	assert.Error(t, p.Run(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(cfg, testStrategies(t), pipeline.Deps{
		Catalog:   &fakeCatalog{dates: []string{"2023-08-15"}},
		Retriever: &fakeRetriever{},
		Raster:    newFakeRaster(),
		Ledger:    testLedger(t, cfg),
	})

	assert.Error(t, p.Run(ctx))
}
