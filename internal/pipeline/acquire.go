package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cityclimate/rasterflow/internal/adapter/sentinelhub"
	"github.com/cityclimate/rasterflow/internal/domain"
	"github.com/cityclimate/rasterflow/internal/fsutil"
	"github.com/cityclimate/rasterflow/internal/ledger"
)

// Unit file names inside a tile's download directory. The raster is written
// first and the request descriptor last, so the descriptor's presence marks
// the unit complete.
const (
	responseFile = "response.tiff"
	requestFile  = "request.json"
)

// acquireDate retrieves every missing (tile, date) unit through a bounded
// worker pool. Individual unit failures are recorded and skipped; the date
// proceeds with whatever tiles succeeded.
func (p *Pipeline) acquireDate(ctx context.Context, strategy domain.Strategy, tiles []domain.Tile, date string, logger *slog.Logger) error {
	start := domain.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, tile := range tiles {
		g.Go(func() error {
			if err := p.acquireUnit(gctx, strategy, tile, date); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if isFilesystemFailure(err) {
					return err
				}
				p.metrics.RetrievalErrors.Inc()
				p.metrics.StageErrors.WithLabelValues("acquire").Inc()
				logger.Error("unit retrieval failed",
					"date", date, "tile", tile.ID(date), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.metrics.StageDuration.WithLabelValues("acquire").Observe(domain.Now().Sub(start).Seconds())
	return nil
}

// acquireUnit fetches one tile's raster for one date unless the unit is
// already satisfied on disk. Both unit files are written atomically, so their
// joint existence is a trustworthy completion marker across restarts.
func (p *Pipeline) acquireUnit(ctx context.Context, strategy domain.Strategy, tile domain.Tile, date string) error {
	id := tile.ID(date)
	dir := p.layout.UnitDir(strategy.Name(), date, id)
	respPath := filepath.Join(dir, responseFile)
	reqPath := filepath.Join(dir, requestFile)
	key := unitKey(strategy.Name(), date, id)

	if fsutil.Exists(respPath) && fsutil.Exists(reqPath) {
		p.metrics.TilesCached.Inc()
		return nil
	}

	from, to, err := domain.DayWindow(date)
	if err != nil {
		return err
	}
	req := sentinelhub.NewProcessRequest(strategy, tile, from, to)

	p.metrics.TilesRequested.Inc()
	raw, err := p.retriever.Retrieve(ctx, req)
	if err != nil {
		p.markUnit(key, ledger.StatusFailed)
		return err
	}

	reqJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("encode request descriptor: %w", err)
	}
	if err := fsutil.AtomicWriteFile(respPath, raw, 0o644); err != nil {
		p.markUnit(key, ledger.StatusFailed)
		return &domain.FilesystemError{Path: respPath, Err: err}
	}
	if err := fsutil.AtomicWriteFile(reqPath, reqJSON, 0o644); err != nil {
		p.markUnit(key, ledger.StatusFailed)
		return &domain.FilesystemError{Path: reqPath, Err: err}
	}
	p.markUnit(key, ledger.StatusDone)
	return nil
}

// markUnit records unit state in the run ledger. Ledger persistence failures
// are logged rather than propagated; the unit files themselves carry the
// authoritative completion state.
func (p *Pipeline) markUnit(key string, s ledger.Status) {
	if err := p.led.Mark(key, s); err != nil {
		p.logger.Error("ledger update failed", "key", key, "error", err)
	}
}

func unitKey(sensor, date, tileID string) string {
	return strings.Join([]string{"acquire", sensor, date, tileID}, "/")
}
