// Package pipeline drives a scan end to end: grid the region, acquire and
// composite frames per tile, classify crop cover, aggregate per
// administrative region, and evaluate anomaly detectors over the resulting
// index series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cropwatch/internal/catalog"
	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/fsutil"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/inference"
	"github.com/banshee-data/cropwatch/internal/monitoring"
	"github.com/banshee-data/cropwatch/internal/raster"
	"github.com/banshee-data/cropwatch/internal/timeutil"
	"github.com/banshee-data/cropwatch/internal/zonal"
)

// Runner executes scans. It is safe to run one scan at a time per Runner;
// the Scheduler serialises them.
type Runner struct {
	cfg        *config.PipelineConfig
	db         *db.DB
	catalog    *catalog.Client
	frames     *raster.FrameStore
	compositor *raster.Compositor
	orch       *inference.Orchestrator
	regions    *geo.RegionSet
	clock      timeutil.Clock
}

// NewRunner wires a runner from its collaborators. A nil clock selects the
// real one; a nil filesystem selects the OS one.
func NewRunner(cfg *config.PipelineConfig, database *db.DB, cat *catalog.Client,
	cls inference.Classifier, regions *geo.RegionSet, fs fsutil.FileSystem,
	clock timeutil.Clock) (*Runner, error) {
	comp, err := raster.NewCompositor(cfg.GetCompositePolicy())
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Runner{
		cfg:        cfg,
		db:         database,
		catalog:    cat,
		frames:     raster.NewFrameStore(fs, filepath.Join(cfg.GetDataDir(), "composites")),
		compositor: comp,
		orch:       inference.NewOrchestrator(cls, cfg.GetPatchSizePx()),
		regions:    regions,
		clock:      clock,
	}, nil
}

// FrameStore exposes the composite store for the HTTP tile endpoints.
func (r *Runner) FrameStore() *raster.FrameStore { return r.frames }

// Regions exposes the loaded region hierarchy.
func (r *Runner) Regions() *geo.RegionSet { return r.regions }

// ScanWindow derives the acquisition window ending now.
func (r *Runner) ScanWindow() catalog.TimeWindow {
	now := r.clock.Now().UTC()
	return catalog.TimeWindow{From: now.AddDate(0, 0, -r.cfg.GetWindowDays()), To: now}
}

// Report summarises one completed scan.
type Report struct {
	Region   string             `json:"region"`
	Window   catalog.TimeWindow `json:"window"`
	Coverage zonal.Coverage     `json:"coverage"`
	Alerts   []db.Alert         `json:"alerts,omitempty"`
	Vectors  int                `json:"vectors"`
}

// scanState collects per-farm tallies and tile index updates from
// concurrent tile workers.
type scanState struct {
	mu      sync.Mutex
	tallies map[string]*regionTally
	idx     *geo.TileIndex
}

type regionTally struct {
	acc zonal.Accumulator
	idx map[raster.IndexKind]*indexSum
}

func newRegionTally() *regionTally {
	return &regionTally{acc: zonal.NewAccumulator(), idx: make(map[raster.IndexKind]*indexSum)}
}

func (t *regionTally) merge(o *regionTally) {
	t.acc.Merge(o.acc)
	for k, s := range o.idx {
		cur, ok := t.idx[k]
		if !ok {
			cur = &indexSum{}
			t.idx[k] = cur
		}
		cur.sum += s.sum
		cur.n += s.n
	}
}

func (s *scanState) add(regionID string, acc zonal.Accumulator, sums map[raster.IndexKind]*indexSum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tallies[regionID]
	if !ok {
		t = newRegionTally()
		s.tallies[regionID] = t
	}
	t.merge(&regionTally{acc: acc, idx: sums})
}

func (s *scanState) setFrameDates(id geo.TileID, dates []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.SetFrameDates(id, dates, now)
}

// Scan runs one full pass over a named scan area for the given window.
// Tiles that already reached a terminal state are skipped, so re-invoking
// after an interruption resumes instead of restarting. The returned error is
// reserved for cancellation and persistence failures; individual tile
// failures land in the progress ledger.
func (r *Runner) Scan(ctx context.Context, regionName string, window catalog.TimeWindow) (*Report, error) {
	bounds, err := r.cfg.RegionBBox(regionName)
	if err != nil {
		return nil, err
	}
	tiles, err := geo.Grid(bounds, r.cfg.GetTileEdgeMeters(), r.cfg.GetResolutionMeters())
	if err != nil {
		return nil, err
	}

	key := window.Key()
	ids := make([]string, len(tiles))
	byID := make(map[string]geo.Tile, len(tiles))
	for i, t := range tiles {
		ids[i] = t.ID.String()
		byID[ids[i]] = t
	}
	if err := r.db.SeedTiles(regionName, key, ids); err != nil {
		return nil, err
	}

	pending, err := r.db.PendingTiles(regionName, key, r.cfg.GetMaxAttempts())
	if err != nil {
		return nil, err
	}
	monitoring.Logf("scan %s %s: %d of %d tiles pending", regionName, key, len(pending), len(tiles))

	// The tile index sidecar maps classified rasters back onto the globe.
	// Frame dates recorded by earlier runs survive a rescan of the same grid.
	idxPath := filepath.Join(r.cfg.GetDataDir(), regionName, "tile_index.json")
	idx := geo.NewTileIndex(regionName, tiles)
	if prev, err := geo.ReadTileIndex(idxPath); err == nil {
		for id, e := range prev.Tiles {
			if cur, ok := idx.Tiles[id]; ok && len(e.FrameDates) > 0 {
				cur.FrameDates = e.FrameDates
				cur.UpdatedAt = e.UpdatedAt
				idx.Tiles[id] = cur
			}
		}
	}

	st := &scanState{tallies: make(map[string]*regionTally), idx: idx}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.GetWorkers())
	for _, p := range pending {
		tile, ok := byID[p.TileID]
		if !ok {
			// Ledger row from an older grid configuration.
			continue
		}
		g.Go(func() error {
			return r.processTile(gctx, regionName, window, tile, st)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := st.idx.WriteFile(idxPath); err != nil {
		monitoring.Logf("scan %s: write tile index: %v", regionName, err)
	}

	report := &Report{Region: regionName, Window: window}

	rolled := r.rollup(st.tallies)
	now := r.clock.Now().UTC()
	for regionID, tally := range rolled {
		areas := tally.acc.Areas(r.cfg.GetResolutionMeters())
		if err := r.db.UpsertZonalStats(regionID, key, now, areas); err != nil {
			return nil, err
		}
		alerts, err := r.evaluateRegion(regionID, window, tally.means())
		if err != nil {
			return nil, err
		}
		report.Alerts = append(report.Alerts, alerts...)
	}

	vectors, err := r.computeIntrusions(report.Alerts, tiles, window)
	if err != nil {
		return nil, err
	}
	report.Vectors = vectors

	report.Coverage, err = r.coverage(regionName, key, len(tiles))
	if err != nil {
		return nil, err
	}
	monitoring.Logf("scan %s %s: %s, %d alerts", regionName, key, report.Coverage, len(report.Alerts))
	return report, nil
}

func (t *regionTally) means() map[raster.IndexKind]float64 {
	out := make(map[raster.IndexKind]float64, len(t.idx))
	for k, s := range t.idx {
		if s.n > 0 {
			out[k] = s.sum / float64(s.n)
		}
	}
	return out
}

// rollup folds farm tallies up through the administrative hierarchy so
// provinces and the country report the sum of their members.
func (r *Runner) rollup(farms map[string]*regionTally) map[string]*regionTally {
	out := make(map[string]*regionTally)
	for id, tally := range farms {
		cur, ok := r.regions.Get(id)
		for ok {
			agg, exists := out[cur.ID]
			if !exists {
				agg = newRegionTally()
				out[cur.ID] = agg
			}
			agg.merge(tally)
			if cur.ParentID == "" {
				break
			}
			cur, ok = r.regions.Get(cur.ParentID)
		}
	}
	return out
}

func (r *Runner) coverage(regionName, key string, total int) (zonal.Coverage, error) {
	counts, err := r.db.StatusCounts(regionName, key)
	if err != nil {
		return zonal.Coverage{}, err
	}
	missing, err := r.db.MissingTiles(regionName, key)
	if err != nil {
		return zonal.Coverage{}, err
	}
	return zonal.Coverage{
		TilesTotal:      total,
		TilesAggregated: counts[db.StatusAggregated],
		MissingTiles:    missing,
	}, nil
}

// processTile walks one tile through fetch, composite, classify and
// aggregate. Failures are recorded in the ledger and swallowed so one bad
// tile never aborts the scan; only cancellation and ledger write errors
// propagate.
func (r *Runner) processTile(ctx context.Context, region string, window catalog.TimeWindow, tile geo.Tile, st *scanState) error {
	key := window.Key()
	id := tile.ID.String()
	fail := func(stage string, err error) error {
		monitoring.Logf("tile %s %s: %v", id, stage, err)
		detail := fmt.Sprintf("%s: %v", stage, err)
		if merr := r.db.MarkTileFailed(region, id, key, detail); merr != nil {
			return merr
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.MarkTile(region, id, key, db.StatusFetching, ""); err != nil {
		return err
	}

	scenes, err := r.catalog.SearchScenes(ctx, tile.Bounds, window)
	if errors.Is(err, catalog.ErrNoScenes) {
		return r.db.MarkTile(region, id, key, db.StatusNoData, "no optical or radar scenes in window")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail("search", err)
	}
	scenes = selectScenes(scenes, r.cfg.GetFrameCount())

	frames := make([]*raster.Frame, 0, len(scenes))
	for _, sc := range scenes {
		f, err := r.catalog.FetchFrame(ctx, tile, sc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fail("fetch", err)
		}
		frames = append(frames, f)
	}

	composite, err := r.compositor.Composite(frames, window.To)
	if err != nil {
		return fail("composite", err)
	}
	sources := make([]string, len(frames))
	for i, f := range frames {
		sources[i] = f.SceneID
	}
	if err := r.frames.Write(composite, tile.Bounds, key, sources); err != nil {
		return fail("store", err)
	}
	if err := r.db.MarkTile(region, id, key, db.StatusComposited, ""); err != nil {
		return err
	}
	dates := make([]string, len(frames))
	for i, f := range frames {
		dates[i] = f.Acquired.UTC().Format("2006-01-02")
	}
	st.setFrameDates(tile.ID, dates, r.clock.Now())

	tensor, err := temporalStack(frames, r.cfg.GetFrameCount())
	if err != nil {
		return fail("stack", err)
	}
	classMap, err := r.orch.Classify(ctx, tensor)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail("classify", err)
	}
	if err := r.db.MarkTile(region, id, key, db.StatusClassified, ""); err != nil {
		return err
	}

	for _, farm := range r.regions.Intersecting(geo.LevelFarm, tile.Bounds) {
		acc, err := zonal.Aggregate(classMap, tile, farm)
		if err != nil {
			return fail("aggregate", err)
		}
		sums, err := regionIndexSums(composite, tile, farm)
		if err != nil {
			return fail("indices", err)
		}
		st.add(farm.ID, acc, sums)
	}
	return r.db.MarkTile(region, id, key, db.StatusAggregated, "")
}

// selectScenes picks at most n scenes spread evenly across the acquisition
// span, so a long window with many passes still yields frames that sample
// the whole growth period rather than one cloudless week.
func selectScenes(scenes []catalog.Scene, n int) []catalog.Scene {
	if len(scenes) <= n || n < 1 {
		return scenes
	}
	ordered := make([]catalog.Scene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Acquired.Equal(ordered[j].Acquired) {
			return ordered[i].Acquired.Before(ordered[j].Acquired)
		}
		return ordered[i].ID < ordered[j].ID
	})
	if n == 1 {
		return ordered[len(ordered)-1:]
	}
	out := make([]catalog.Scene, 0, n)
	step := float64(len(ordered)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		out = append(out, ordered[int(math.Round(float64(i)*step))])
	}
	return out
}

// temporalStack builds the model input from acquisition-ordered frames.
// Short windows are padded by repeating the oldest frame so the tensor depth
// always matches what the model was trained on; surplus frames are dropped
// oldest first.
func temporalStack(frames []*raster.Frame, depth int) (*raster.Tensor, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to stack")
	}
	ordered := make([]*raster.Frame, len(frames))
	copy(ordered, frames)
	sortFramesOldestFirst(ordered)

	if len(ordered) > depth {
		ordered = ordered[len(ordered)-depth:]
	}
	for len(ordered) < depth {
		ordered = append([]*raster.Frame{ordered[0]}, ordered...)
	}
	return raster.Stack(ordered)
}

func sortFramesOldestFirst(frames []*raster.Frame) {
	sort.Slice(frames, func(i, j int) bool {
		if !frames[i].Acquired.Equal(frames[j].Acquired) {
			return frames[i].Acquired.Before(frames[j].Acquired)
		}
		return frames[i].SceneID < frames[j].SceneID
	})
}
