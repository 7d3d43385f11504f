// Command validate performs integrity checks over a pipeline output tree:
// download units, per-date mosaics, index timesteps, temporal aggregates, and
// the finished results mirror. It verifies file presence, identifier
// consistency, and cross-stage completeness without opening any raster, so
// it runs anywhere the tree is mounted.
//
// Usage:
//
//	go run ./cmd/validate -data-dir ./data -area stuttgart
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cityclimate/rasterflow/internal/config"
	"github.com/cityclimate/rasterflow/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "./data", "root of the output tree")
	area := flag.String("area", "", "area name used in the processing tree")
	flag.Parse()

	if *area == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(config.NewLayout(*dataDir, *area)))
}

func run(layout config.Layout) int {
	fmt.Println("=== Output Tree Integrity Validation ===")
	fmt.Println()

	units := collectUnits(layout)
	timesteps := collectTimesteps(layout)

	phases := []*phase{
		validateUnits(units),
		validateMosaics(layout, units),
		validateTimesteps(timesteps),
		validateAggregates(layout, timesteps),
		validateResults(layout, timesteps),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Found: %d download units, %d timestep rasters\n", len(units), len(timesteps))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// unit is one (tile, date) download directory.
type unit struct {
	sensor string
	date   string
	tileID string
	dir    string
}

// timestep is one per-date index raster.
type timestep struct {
	category string
	index    string
	date     string
	path     string
}

func collectUnits(layout config.Layout) []unit {
	var units []unit
	root := filepath.Join(layout.Downloads(), "satellite_images")
	sensors, _ := os.ReadDir(root)
	for _, s := range sensors {
		dates, _ := os.ReadDir(filepath.Join(root, s.Name()))
		for _, d := range dates {
			tiles, _ := os.ReadDir(filepath.Join(root, s.Name(), d.Name()))
			for _, t := range tiles {
				units = append(units, unit{
					sensor: s.Name(),
					date:   d.Name(),
					tileID: t.Name(),
					dir:    filepath.Join(root, s.Name(), d.Name(), t.Name()),
				})
			}
		}
	}
	return units
}

func collectTimesteps(layout config.Layout) []timestep {
	var steps []timestep
	for _, category := range []string{"vegetation_indices", "heat_islands"} {
		categoryDir := filepath.Dir(layout.IndexBase(category, "x"))
		indices, _ := os.ReadDir(categoryDir)
		for _, idx := range indices {
			matches, _ := filepath.Glob(filepath.Join(layout.TimestepsDir(category, idx.Name()), "*.tiff"))
			for _, m := range matches {
				date, err := domain.TimestepDate(m, idx.Name())
				if err != nil {
					date = ""
				}
				steps = append(steps, timestep{category: category, index: idx.Name(), date: date, path: m})
			}
		}
	}
	return steps
}

// Phase 1: Download units.
// Every unit directory must hold both files, and the directory name must be
// the identifier derived from the persisted request bbox and the date.

func validateUnits(units []unit) *phase {
	p := &phase{name: "Phase 1: Download Units"}

	for _, u := range units {
		respPath := filepath.Join(u.dir, "response.tiff")
		reqPath := filepath.Join(u.dir, "request.json")

		if _, err := os.Stat(respPath); err != nil {
			p.errorf("%s/%s/%s: missing response.tiff", u.sensor, u.date, u.tileID)
		}
		raw, err := os.ReadFile(reqPath)
		if err != nil {
			p.errorf("%s/%s/%s: missing request.json", u.sensor, u.date, u.tileID)
			continue
		}

		var req struct {
			Input struct {
				Bounds struct {
					BBox [4]float64 `json:"bbox"`
				} `json:"bounds"`
			} `json:"input"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			p.errorf("%s/%s/%s: request.json unparsable: %v", u.sensor, u.date, u.tileID, err)
			continue
		}

		b := req.Input.Bounds.BBox
		tile := domain.Tile{ProjBBox: domain.ProjBBox{MinX: b[0], MinY: b[1], MaxX: b[2], MaxY: b[3]}}
		if got := tile.ID(u.date); got != u.tileID {
			p.errorf("%s/%s/%s: directory name does not match derived id %s", u.sensor, u.date, u.tileID, got)
		}
	}
	return p
}

// Phase 2: Mosaics.
// Every sensor/date with at least one complete unit must carry a mosaic.

func validateMosaics(layout config.Layout, units []unit) *phase {
	p := &phase{name: "Phase 2: Per-Date Mosaics"}

	seen := map[string]bool{}
	for _, u := range units {
		key := u.sensor + "/" + u.date
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, err := os.Stat(layout.MosaicVRT(u.sensor, u.date)); err != nil {
			p.errorf("%s: missing mosaic vrt", key)
		}
		if _, err := os.Stat(layout.MosaicTIFF(u.sensor, u.date)); err != nil {
			p.errorf("%s: missing mosaic tiff", key)
		}
	}
	return p
}

// Phase 3: Timesteps.
// Timestep file names must encode a parsable date, and each index must live
// under its correct category.

func validateTimesteps(steps []timestep) *phase {
	p := &phase{name: "Phase 3: Index Timesteps"}

	for _, s := range steps {
		if s.date == "" {
			p.errorf("%s: file name does not encode a date", s.path)
			continue
		}
		if want := domain.CategoryForIndex(s.index); want != s.category {
			p.errorf("%s: index %s filed under %s, expected %s", s.path, s.index, s.category, want)
		}
	}
	return p
}

// Phase 4: Aggregates.
// Every cohort implied by the timesteps must have its composite raster.

func validateAggregates(layout config.Layout, steps []timestep) *phase {
	p := &phase{name: "Phase 4: Temporal Aggregates"}

	expected := map[string]string{} // aggregate path -> cohort key
	for _, s := range steps {
		if s.date == "" {
			continue
		}
		yearly, monthly, err := domain.CohortKeys(s.date)
		if err != nil {
			continue
		}
		expected[layout.AggregateFile(s.category, s.index, yearly)] = s.index + "/" + yearly
		expected[layout.AggregateFile(s.category, s.index, monthly)] = s.index + "/" + monthly
	}

	for path, key := range expected {
		if _, err := os.Stat(path); err != nil {
			p.errorf("%s: missing aggregate %s", key, path)
		}
	}
	return p
}

// Phase 5: Results mirror.
// Every timestep and aggregate must have its cropped counterpart in the
// results tree.

func validateResults(layout config.Layout, steps []timestep) *phase {
	p := &phase{name: "Phase 5: Results Mirror"}

	var sources []string
	for _, s := range steps {
		sources = append(sources, s.path)
		if s.date == "" {
			continue
		}
		yearly, monthly, err := domain.CohortKeys(s.date)
		if err != nil {
			continue
		}
		for _, key := range []string{yearly, monthly} {
			agg := layout.AggregateFile(s.category, s.index, key)
			if _, err := os.Stat(agg); err == nil {
				sources = append(sources, agg)
			}
		}
	}

	seen := map[string]bool{}
	for _, src := range sources {
		if seen[src] {
			continue
		}
		seen[src] = true

		dst, err := layout.ResultPath(src)
		if err != nil {
			p.errorf("%s: %v", src, err)
			continue
		}
		if _, err := os.Stat(dst); err != nil {
			p.errorf("missing result for %s", strings.TrimPrefix(src, layout.Processing()+string(filepath.Separator)))
		}
	}
	return p
}
