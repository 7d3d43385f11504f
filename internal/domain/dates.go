package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DayFormat is the canonical calendar-date layout used in file names and
// catalog responses.
const DayFormat = "2006-01-02"

// ParseDay accepts a calendar date in either YYYY-MM-DD or compact YYYYMMDD
// form and returns it in canonical form. Weather gating emits compact dates
// while the imagery catalog reports ISO dates; canonicalizing here is what
// lets the two day sets intersect.
func ParseDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DayFormat, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DayFormat), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

// DayWindow returns the closed 24-hour UTC window for a canonical day,
// anchored at midnight. Retrieval requests use it to select acquisitions
// from exactly that day.
func DayWindow(day string) (from, to time.Time, err error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	from = t.UTC()
	to = from.Add(24*time.Hour - time.Second)
	return from, to, nil
}

// CohortKeys returns the yearly and monthly aggregation keys for a canonical
// day. A date belongs to exactly one year cohort and one month cohort.
func CohortKeys(day string) (yearly, monthly string, err error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return "", "", fmt.Errorf("parse day %q: %w", day, err)
	}
	yearly = fmt.Sprintf("year_%d", t.Year())
	monthly = fmt.Sprintf("month_%d_%02d", t.Year(), int(t.Month()))
	return yearly, monthly, nil
}

// TimestepDate extracts the date from a per-date index raster file name of
// the form <index>_<YYYY-MM-DD>.tiff. Cohort membership is determined purely
// by this embedded date.
func TimestepDate(path, index string) (string, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".tiff")
	day := strings.TrimPrefix(name, index+"_")
	if _, err := time.Parse(DayFormat, day); err != nil {
		return "", fmt.Errorf("timestep file %q does not encode a date: %w", path, err)
	}
	return day, nil
}
