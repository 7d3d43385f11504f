package sentinelhub

import (
	"fmt"
	"time"

	"github.com/cityclimate/rasterflow/internal/domain"
)

// ProcessRequest is the Sentinel Hub Process API payload for one tile. The
// dispatcher persists the marshalled request as the unit's request.json
// descriptor, so the exact retrieval parameters remain auditable next to
// the raster they produced.
type ProcessRequest struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       [4]float64      `json:"bbox"`
	Properties boundProperties `json:"properties"`
}

type boundProperties struct {
	CRS string `json:"crs"`
}

type processData struct {
	Type       string     `json:"type"`
	DataFilter dataFilter `json:"dataFilter"`
}

type dataFilter struct {
	TimeRange       timeRange `json:"timeRange"`
	MosaickingOrder string    `json:"mosaickingOrder"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string         `json:"identifier"`
	Format     responseFormat `json:"format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// NewProcessRequest builds the fixed-format TIFF retrieval request for one
// tile and 24-hour day window, selecting the least-cloud-cover acquisition
// within the window.
func NewProcessRequest(strategy domain.Strategy, tile domain.Tile, from, to time.Time) *ProcessRequest {
	width, height := tile.PixelDimensions(strategy.Resolution())
	return &ProcessRequest{
		Input: processInput{
			Bounds: processBounds{
				BBox: [4]float64{tile.MinX, tile.MinY, tile.MaxX, tile.MaxY},
				Properties: boundProperties{
					CRS: fmt.Sprintf("http://www.opengis.net/def/crs/EPSG/0/%d", tile.EPSG),
				},
			},
			Data: []processData{{
				Type: strategy.Collection(),
				DataFilter: dataFilter{
					TimeRange: timeRange{
						From: from.UTC().Format(time.RFC3339),
						To:   to.UTC().Format(time.RFC3339),
					},
					MosaickingOrder: "leastCC",
				},
			}},
		},
		Output: processOutput{
			Width:  width,
			Height: height,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     responseFormat{Type: "image/tiff"},
			}},
		},
		Evalscript: strategy.Evalscript(),
	}
}
