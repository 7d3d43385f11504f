package domain

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Index names supported across sensors.
const (
	IndexNDVI = "ndvi"
	IndexNDMI = "ndmi"
	IndexLST  = "lst"
)

// Generic band roles mapped from sensor-specific band names.
const (
	RoleRed  = "red"
	RoleNIR  = "nir"
	RoleSWIR = "swir"
	RoleTIR  = "tir"
)

// CategoryForIndex returns the output category an index is filed under.
func CategoryForIndex(index string) string {
	if index == IndexLST {
		return "heat_islands"
	}
	return "vegetation_indices"
}

// Strategy is the per-sensor capability: which bands a retrieval must
// request (in order), how those bands map to generic roles, and which
// indices can be computed from them. Strategies form a closed set chosen
// once at configuration time.
type Strategy interface {
	// Name is the sensor identifier, also used as the download subdirectory.
	Name() string
	// Collection is the provider's data collection identifier.
	Collection() string
	// Resolution is the ground resolution in meters per pixel.
	Resolution() int
	// BandOrder is the declared band list parsed from the evalscript.
	BandOrder() []string
	// Evalscript is the raw retrieval script sent with each request.
	Evalscript() string
	// Indices lists the index names this sensor supports.
	Indices() []string
	// MapBands renames positional bands to generic roles.
	MapBands(bands map[string][]float64) (map[string][]float64, error)
	// ComputeIndices computes the requested subset of indices.
	ComputeIndices(mapped map[string][]float64, requested []string) (map[string][]float64, error)
}

// bandsRe matches the bands array in an evalscript's input setup,
// e.g. bands: ["B04", "B08", "B11"].
var bandsRe = regexp.MustCompile(`bands\s*:\s*\[([^\]]*)\]`)

// parseBandOrder extracts the ordered band list from an evalscript resource.
// A missing or unparsable declaration is a construction-time failure for the
// strategy.
func parseBandOrder(evalscript, resource string) ([]string, error) {
	m := bandsRe.FindStringSubmatch(evalscript)
	if m == nil {
		return nil, &ResourceParseError{Resource: resource, Err: fmt.Errorf("no bands array found")}
	}
	var bands []string
	for _, part := range strings.Split(m[1], ",") {
		name := strings.Trim(strings.TrimSpace(part), `"'`)
		if name == "" {
			continue
		}
		bands = append(bands, name)
	}
	if len(bands) == 0 {
		return nil, &ResourceParseError{Resource: resource, Err: fmt.Errorf("bands array is empty")}
	}
	return bands, nil
}

func loadEvalscript(path string) (string, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, &ResourceParseError{Resource: path, Err: err}
	}
	script := string(raw)
	if strings.TrimSpace(script) == "" {
		return "", nil, &ResourceParseError{Resource: path, Err: fmt.Errorf("evalscript is empty")}
	}
	bands, err := parseBandOrder(script, path)
	if err != nil {
		return "", nil, err
	}
	return script, bands, nil
}

// mapRoles binds declared band names to generic roles. Every expected band
// must be present; a missing band means the raster does not match the
// declaration and mapping fails instead of mis-binding.
func mapRoles(bands map[string][]float64, roles map[string]string) (map[string][]float64, error) {
	mapped := make(map[string][]float64, len(roles))
	for bandName, role := range roles {
		data, ok := bands[bandName]
		if !ok {
			return nil, &ResourceParseError{
				Resource: "band mapping",
				Err:      fmt.Errorf("declared band %s missing from raster", bandName),
			}
		}
		mapped[role] = data
	}
	return mapped, nil
}

// Sentinel2 is the optical multispectral strategy: red/nir/swir bands at
// 10 m, supporting the vegetation (ndvi) and moisture (ndmi) indices.
type Sentinel2 struct {
	evalscript string
	bandOrder  []string
}

// NewSentinel2 constructs the Sentinel-2 L2A strategy from its evalscript
// resource.
func NewSentinel2(evalscriptPath string) (*Sentinel2, error) {
	script, bands, err := loadEvalscript(evalscriptPath)
	if err != nil {
		return nil, err
	}
	return &Sentinel2{evalscript: script, bandOrder: bands}, nil
}

func (s *Sentinel2) Name() string        { return "SENTINEL2_L2A" }
func (s *Sentinel2) Collection() string  { return "sentinel-2-l2a" }
func (s *Sentinel2) Resolution() int     { return 10 }
func (s *Sentinel2) BandOrder() []string { return s.bandOrder }
func (s *Sentinel2) Evalscript() string  { return s.evalscript }
func (s *Sentinel2) Indices() []string   { return []string{IndexNDVI, IndexNDMI} }

func (s *Sentinel2) MapBands(bands map[string][]float64) (map[string][]float64, error) {
	return mapRoles(bands, map[string]string{
		"B04": RoleRed,
		"B08": RoleNIR,
		"B11": RoleSWIR,
	})
}

func (s *Sentinel2) ComputeIndices(mapped map[string][]float64, requested []string) (map[string][]float64, error) {
	results := make(map[string][]float64)
	for _, index := range requested {
		switch index {
		case IndexNDVI:
			results[IndexNDVI] = NormalizedIndex(mapped[RoleNIR], mapped[RoleRed])
		case IndexNDMI:
			results[IndexNDMI] = NormalizedIndex(mapped[RoleNIR], mapped[RoleSWIR])
		default:
			return nil, fmt.Errorf("sensor %s does not support index %q", s.Name(), index)
		}
	}
	return results, nil
}

// tirCenterWavelengthMicrons is the Landsat thermal channel center
// wavelength used in the surface-temperature inversion.
const tirCenterWavelengthMicrons = 10.895

// Landsat is the optical+thermal strategy: red/nir/swir/tir bands at 30 m,
// supporting ndvi and the surface-temperature index.
type Landsat struct {
	evalscript string
	bandOrder  []string
}

// NewLandsat constructs the Landsat OT L2 strategy from its evalscript
// resource.
func NewLandsat(evalscriptPath string) (*Landsat, error) {
	script, bands, err := loadEvalscript(evalscriptPath)
	if err != nil {
		return nil, err
	}
	return &Landsat{evalscript: script, bandOrder: bands}, nil
}

func (l *Landsat) Name() string        { return "LANDSAT_OT_L2" }
func (l *Landsat) Collection() string  { return "landsat-ot-l2" }
func (l *Landsat) Resolution() int     { return 30 }
func (l *Landsat) BandOrder() []string { return l.bandOrder }
func (l *Landsat) Evalscript() string  { return l.evalscript }
func (l *Landsat) Indices() []string   { return []string{IndexNDVI, IndexLST} }

func (l *Landsat) MapBands(bands map[string][]float64) (map[string][]float64, error) {
	return mapRoles(bands, map[string]string{
		"B04": RoleRed,
		"B05": RoleNIR,
		"B07": RoleSWIR,
		"B10": RoleTIR,
	})
}

func (l *Landsat) ComputeIndices(mapped map[string][]float64, requested []string) (map[string][]float64, error) {
	results := make(map[string][]float64)
	for _, index := range requested {
		switch index {
		case IndexNDVI:
			results[IndexNDVI] = NormalizedIndex(mapped[RoleNIR], mapped[RoleRed])
		case IndexLST:
			ndvi := NormalizedIndex(mapped[RoleNIR], mapped[RoleRed])
			results[IndexLST] = SurfaceTemperature(ndvi, mapped[RoleTIR], tirCenterWavelengthMicrons)
		default:
			return nil, fmt.Errorf("sensor %s does not support index %q", l.Name(), index)
		}
	}
	return results, nil
}
