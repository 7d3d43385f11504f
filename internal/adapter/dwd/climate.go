// Package dwd supplies the weather gating input: candidate acquisition days
// extracted from a DWD daily climate archive. Satellite acquisition only
// makes sense on calm, hot days, so days are filtered by mean windspeed and
// maximum temperature before any imagery is requested.
package dwd

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// climateMemberPrefix identifies the daily climate table inside the archive.
const climateMemberPrefix = "produkt_klima_tag"

// Downloader fetches climate archives from the DWD open-data server.
type Downloader struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloader creates a DWD archive downloader.
func NewDownloader(baseURL string, timeout time.Duration, logger *slog.Logger) *Downloader {
	return &Downloader{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch downloads the named archive resource to destPath. The download is
// skipped when destPath already exists; re-runs on the same day reuse the
// archive.
func (d *Downloader) Fetch(ctx context.Context, resource, destPath string) error {
	if fsutil.Exists(destPath) {
		d.logger.Info("climate archive already present, skipping download", "path", destPath)
		return nil
	}

	u, err := url.JoinPath(d.baseURL, resource)
	if err != nil {
		return fmt.Errorf("join archive url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create archive request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "fetch climate archive", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.TransportError{
			Op:  "fetch climate archive",
			Err: fmt.Errorf("status %d for %s", resp.StatusCode, u),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: "read climate archive", Err: err}
	}
	if err := fsutil.AtomicWriteFile(destPath, raw, 0o644); err != nil {
		return &domain.FilesystemError{Path: destPath, Err: err}
	}
	d.logger.Info("downloaded climate archive", "path", destPath, "bytes", len(raw))
	return nil
}

// SuitableDays parses the daily climate table inside the zipped archive and
// returns the canonical dates whose mean windspeed (FM) is below maxWind,
// whose maximum temperature (TXK) is at least minTemp, and whose year is at
// least minYear. Dates are sorted ascending.
func SuitableDays(zipPath string, maxWind, minTemp float64, minYear int) ([]string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, &domain.ResourceParseError{Resource: zipPath, Err: err}
	}
	defer archive.Close()

	var member *zip.File
	for _, f := range archive.File {
		name := f.Name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		if strings.HasPrefix(name, climateMemberPrefix) {
			member = f
			break
		}
	}
	if member == nil {
		return nil, &domain.ResourceParseError{
			Resource: zipPath,
			Err:      fmt.Errorf("no %s* member in archive", climateMemberPrefix),
		}
	}

	rc, err := member.Open()
	if err != nil {
		return nil, &domain.ResourceParseError{Resource: zipPath, Err: err}
	}
	defer rc.Close()

	return parseClimateTable(rc, maxWind, minTemp, minYear)
}

// parseClimateTable filters the semicolon-separated daily table. Rows with
// unparsable or missing FM/TXK values are skipped.
func parseClimateTable(r io.Reader, maxWind, minTemp float64, minYear int) ([]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &domain.ResourceParseError{Resource: "climate table", Err: err}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"MESS_DATUM", "FM", "TXK"} {
		if _, ok := cols[required]; !ok {
			return nil, &domain.ResourceParseError{
				Resource: "climate table",
				Err:      fmt.Errorf("missing column %s", required),
			}
		}
	}

	var days []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &domain.ResourceParseError{Resource: "climate table", Err: err}
		}

		wind, errW := parseField(record, cols["FM"])
		temp, errT := parseField(record, cols["TXK"])
		if errW != nil || errT != nil {
			continue
		}
		if wind >= maxWind || temp < minTemp {
			continue
		}

		day, err := domain.ParseDay(strings.TrimSpace(record[cols["MESS_DATUM"]]))
		if err != nil {
			continue
		}
		if year, _ := strconv.Atoi(day[:4]); year < minYear {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

func parseField(record []string, idx int) (float64, error) {
	if idx >= len(record) {
		return 0, fmt.Errorf("short record")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
	if err != nil {
		return 0, err
	}
	// -999 is the DWD sentinel for missing observations.
	if v <= -999 {
		return 0, fmt.Errorf("missing observation")
	}
	return v, nil
}
