package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cityclimate/rasterflow/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Area of interest.
	AreaName string
	AOI      domain.BBox

	// Acquisition.
	TileEdgeMeters   float64
	MaxCloudCover    int
	Modules          []string
	SHBaseURL        string
	SHToken          string
	RetrievalTimeout time.Duration
	CatalogCacheSize int
	EvalscriptDir    string

	// Weather gating (DWD climate archive).
	DWDBaseURL     string
	DWDResource    string
	MaxWindspeed   float64
	MinTemperature float64
	MinYear        int
	UseHistorical  bool

	// Output tree.
	DataDir string

	// Layer notification sink.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	// Operational.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Workers         int
}

// Module names selectable via the MODULES variable.
const (
	ModuleVegetationIndices     = "vegetation_indices"
	ModuleLandSurfaceTemprature = "land_surface_temperature"
)

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	aoi, err := parseBBox(envOrDefault("AOI_BBOX", ""))
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	retrievalTimeout, err := parseDuration("RETRIEVAL_TIMEOUT", "120s")
	if err != nil {
		return nil, err
	}

	modules, err := parseModules(envOrDefault("MODULES", ModuleVegetationIndices))
	if err != nil {
		return nil, err
	}

	kafkaBrokers := parseBrokers(envOrDefault("KAFKA_BROKERS", ""))
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		AreaName: envOrDefault("AREA_NAME", ""),
		AOI:      aoi,

		TileEdgeMeters:   envFloat("TILE_EDGE_METERS", 5000),
		MaxCloudCover:    envInt("MAX_CLOUD_COVER", 25),
		Modules:          modules,
		SHBaseURL:        envOrDefault("SH_BASE_URL", "https://services.sentinel-hub.com"),
		SHToken:          os.Getenv("SH_TOKEN"),
		RetrievalTimeout: retrievalTimeout,
		CatalogCacheSize: envInt("CATALOG_CACHE_SIZE", 256),
		EvalscriptDir:    envOrDefault("EVALSCRIPT_DIR", "./configs/evalscripts"),

		DWDBaseURL:     envOrDefault("DWD_BASE_URL", "https://opendata.dwd.de/climate_environment/CDC/observations_germany/climate/daily/kl/recent/"),
		DWDResource:    os.Getenv("DWD_RESOURCE"),
		MaxWindspeed:   envFloat("MAX_WINDSPEED", 2.6),
		MinTemperature: envFloat("MIN_TEMPERATURE", 25.0),
		MinYear:        envInt("MIN_YEAR", 2023),
		UseHistorical:  os.Getenv("USE_HISTORICAL_DATA") == "true",

		DataDir: envOrDefault("DATA_DIR", "./data"),

		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "raster-layers"),
		KafkaEnabled: kafkaEnabled,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		Workers:         envInt("WORKERS", runtime.NumCPU()),
	}

	if cfg.AreaName == "" {
		return nil, errors.New("AREA_NAME is required")
	}
	if cfg.TileEdgeMeters <= 0 {
		return nil, errors.New("TILE_EDGE_METERS must be positive")
	}
	if cfg.MaxCloudCover < 0 || cfg.MaxCloudCover > 100 {
		return nil, errors.New("MAX_CLOUD_COVER must be between 0 and 100")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("WORKERS must be at least 1")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func parseBBox(s string) (domain.BBox, error) {
	if s == "" {
		return domain.BBox{}, errors.New("AOI_BBOX is required (min_lon,min_lat,max_lon,max_lat)")
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BBox{}, fmt.Errorf("AOI_BBOX needs 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}, fmt.Errorf("AOI_BBOX component %q: %w", p, err)
		}
		vals[i] = v
	}
	bbox := domain.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := bbox.Validate(); err != nil {
		return domain.BBox{}, fmt.Errorf("AOI_BBOX: %w", err)
	}
	return bbox, nil
}

func parseModules(s string) ([]string, error) {
	var modules []string
	seen := make(map[string]bool)
	for _, m := range strings.Split(s, ",") {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		if m != ModuleVegetationIndices && m != ModuleLandSurfaceTemprature {
			return nil, fmt.Errorf("unknown module %q", m)
		}
		seen[m] = true
		modules = append(modules, m)
	}
	if len(modules) == 0 {
		return nil, errors.New("MODULES must name at least one module")
	}
	return modules, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return def
}
