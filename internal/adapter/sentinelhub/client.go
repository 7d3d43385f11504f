// Package sentinelhub talks to the Sentinel Hub Catalog and Process APIs:
// searching acquisition dates for a bbox/time window under a cloud-cover
// filter, and retrieving evalscript-rendered rasters for single tiles.
package sentinelhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/cityclimate/rasterflow/internal/domain"
)

// Client implements catalog search and image retrieval against Sentinel Hub.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Sentinel Hub client authenticating with the given
// OAuth bearer token.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// searchPageLimit is the page size for catalog queries. The catalog caps a
// single response; a multi-year search over a city returns far more scenes
// than one page holds.
const searchPageLimit = 100

// Search queries the catalog for acquisition dates inside the bbox and
// closed time interval whose scene cloud cover is below maxCloudCover.
// Pagination is followed via the response's continuation token until the
// catalog stops advertising one. Returns the sorted list of distinct
// calendar dates. Any transport or HTTP failure fails the whole query; the
// caller decides whether to proceed with zero dates.
func (c *Client) Search(ctx context.Context, bbox domain.BBox, from, to time.Time, maxCloudCover int, collection string) ([]string, error) {
	poly := orb.Polygon{orb.Ring{
		{bbox.MinLon, bbox.MinLat},
		{bbox.MaxLon, bbox.MinLat},
		{bbox.MaxLon, bbox.MaxLat},
		{bbox.MinLon, bbox.MaxLat},
		{bbox.MinLon, bbox.MinLat},
	}}

	seen := make(map[string]bool)
	var dates []string
	var next *int
	for {
		body := searchRequest{
			Collections: []string{collection},
			Datetime:    fmt.Sprintf("%s/%s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)),
			Intersects:  geojson.NewGeometry(poly),
			Filter:      fmt.Sprintf("eo:cloud_cover < %d", maxCloudCover),
			FilterLang:  "cql2-text",
			Limit:       searchPageLimit,
			Next:        next,
		}

		var resp searchResponse
		if err := c.postJSON(ctx, c.baseURL+"/api/v1/catalog/1.0.0/search", body, &resp); err != nil {
			return nil, err
		}

		for _, f := range resp.Features {
			day, _, ok := strings.Cut(f.Properties.Datetime, "T")
			if !ok || seen[day] {
				continue
			}
			seen[day] = true
			dates = append(dates, day)
		}

		if resp.Context.Next == nil {
			break
		}
		next = resp.Context.Next
	}
	sort.Strings(dates)
	return dates, nil
}

// Retrieve posts a process request and returns the raw raster bytes.
func (c *Client) Retrieve(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode process request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/process", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create process request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/tiff")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Op: "process request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.TransportError{
			Op:  "process request",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}

	raster, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: "read process response", Err: err}
	}
	return raster, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "catalog search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.TransportError{
			Op:  "catalog search",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: "decode catalog response", Err: err}
	}
	return nil
}

// Catalog API request/response types.

type searchRequest struct {
	Collections []string          `json:"collections"`
	Datetime    string            `json:"datetime"`
	Intersects  *geojson.Geometry `json:"intersects"`
	Filter      string            `json:"filter,omitempty"`
	FilterLang  string            `json:"filter-lang,omitempty"`
	Limit       int               `json:"limit"`
	Next        *int              `json:"next,omitempty"`
}

type searchResponse struct {
	Features []searchFeature `json:"features"`
	Context  searchContext   `json:"context"`
}

// searchContext carries the pagination state; a nil Next means the last
// page has been served.
type searchContext struct {
	Next *int `json:"next"`
}

type searchFeature struct {
	Properties struct {
		Datetime   string  `json:"datetime"`
		CloudCover float64 `json:"eo:cloud_cover"`
	} `json:"properties"`
}
