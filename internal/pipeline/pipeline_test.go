package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/cropwatch/internal/anomaly"
	"github.com/banshee-data/cropwatch/internal/catalog"
	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/fsutil"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/inference"
	"github.com/banshee-data/cropwatch/internal/raster"
	"github.com/banshee-data/cropwatch/internal/timeutil"
	"github.com/banshee-data/cropwatch/migrations"
)

func ptrF(v float64) *float64 { return &v }
func ptrS(v string) *string   { return &v }
func ptrI(v int) *int         { return &v }

// The test grid: 120m tiles of 4x4 pixels at 30m, over a box that grids
// into 2 rows x 2 cols near 9.5N 105E.
var testBounds = geo.BBox{West: 105.0, South: 9.5, East: 105.002, North: 9.502}

func testConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	return &config.PipelineConfig{
		TileEdgeMeters:      ptrF(120),
		ResolutionMeters:    ptrF(30),
		CatalogURL:          ptrS("http://catalog.test"),
		CloudCeilingPct:     ptrF(30),
		MaxAttempts:         ptrI(2),
		BackoffBase:         ptrS("1ms"),
		CatalogRatePerSec:   ptrF(10000),
		CatalogBurst:        ptrI(100),
		Workers:             ptrI(1),
		WindowDays:          ptrI(30),
		FrameCount:          ptrI(2),
		PatchSizePx:         ptrI(4),
		SalinityNDSILimit:   ptrF(0.3),
		DataDir:             ptrS(filepath.Join(t.TempDir(), "data")),
		Regions:             map[string]geo.BBox{"testland": testBounds},
		DefaultRegion:       ptrS("testland"),
		ConsecutiveReadings: ptrI(2),
	}
}

func testRegions(t *testing.T) *geo.RegionSet {
	t.Helper()
	ring := func(b geo.BBox) geo.Polygon { return geo.FromBBox(b) }
	wide := geo.BBox{West: 104.99, South: 9.49, East: 105.01, North: 9.51}
	rs, err := geo.NewRegionSet([]*geo.Region{
		{ID: "t-country", Name: "Country", Level: geo.LevelCountry, Geometry: ring(wide)},
		{ID: "t-province", Name: "Province", Level: geo.LevelProvince, ParentID: "t-country", Geometry: ring(wide)},
		{ID: "t-farm", Name: "Farm", Level: geo.LevelFarm, ParentID: "t-province", Geometry: ring(wide)},
	})
	if err != nil {
		t.Fatalf("NewRegionSet: %v", err)
	}
	return rs
}

// catalogStub routes catalog traffic by path so concurrent workers never
// race over a response queue. noDataTile names a tile whose searches come
// back empty from both collections.
type catalogStub struct {
	noDataTile geo.BBox
	green      float32 // B03 reflectance served for every pixel
	swir       float32 // B11 reflectance served for every pixel
}

func (s *catalogStub) roundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case strings.HasSuffix(req.URL.Path, "/oauth/token"):
		return jsonResponse(200, `{"access_token":"tok","expires_in":3600}`), nil
	case strings.HasSuffix(req.URL.Path, "/catalog/search"):
		var sr struct {
			BBox [4]float64 `json:"bbox"`
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &sr); err != nil {
			return jsonResponse(400, "{}"), nil
		}
		if s.isNoData(sr.BBox) {
			return jsonResponse(200, `{"features":[]}`), nil
		}
		return jsonResponse(200, `{"features":[
			{"id":"S2A_0710","properties":{"datetime":"2026-07-10T03:00:00Z","eo:cloud_cover":5}},
			{"id":"S2B_0720","properties":{"datetime":"2026-07-20T03:00:00Z","eo:cloud_cover":12}}
		]}`), nil
	case strings.HasSuffix(req.URL.Path, "/process"):
		var pr struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &pr); err != nil {
			return jsonResponse(400, "{}"), nil
		}
		return binResponse(s.framePayload(pr.Width, pr.Height)), nil
	default:
		return jsonResponse(404, "{}"), nil
	}
}

func (s *catalogStub) isNoData(bbox [4]float64) bool {
	const eps = 1e-6
	return bbox[0] > s.noDataTile.West-eps && bbox[0] < s.noDataTile.West+eps &&
		bbox[1] > s.noDataTile.South-eps && bbox[1] < s.noDataTile.South+eps
}

// framePayload serves every pixel clear with fixed reflectance per band:
// blue 0.05, green s.green, red 0.05, NIR 0.45, SWIR1 s.swir, SWIR2 0.20.
func (s *catalogStub) framePayload(w, h int) []byte {
	n := w * h
	perBand := []float32{0.05, s.green, 0.05, 0.45, s.swir, 0.20}
	var buf bytes.Buffer
	for _, v := range perBand {
		for i := 0; i < n; i++ {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	for i := 0; i < n; i++ {
		buf.WriteByte(4) // vegetation, clear
	}
	return buf.Bytes()
}

func jsonResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func binResponse(body []byte) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}

// riceClassifier labels every pixel rice (class 1).
type riceClassifier struct{}

func (riceClassifier) NumClasses() int { return inference.NumClasses }
func (riceClassifier) Version() string { return "test" }

func (riceClassifier) Infer(_ context.Context, t *raster.Tensor) (*inference.ClassLogits, error) {
	l := &inference.ClassLogits{
		Classes: inference.NumClasses,
		Height:  t.Height,
		Width:   t.Width,
		Data:    make([]float32, inference.NumClasses*t.Height*t.Width),
	}
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			l.Data[(1*t.Height+y)*t.Width+x] = 10
		}
	}
	return l, nil
}

type harness struct {
	cfg    *config.PipelineConfig
	db     *db.DB
	runner *Runner
	mock   *httputilMock
	clock  *timeutil.MockClock
	window catalog.TimeWindow
}

// httputilMock adapts a round-trip function to httputil.HTTPClient while
// counting requests.
type httputilMock struct {
	fn    func(*http.Request) (*http.Response, error)
	count int
}

func (m *httputilMock) Do(req *http.Request) (*http.Response, error) {
	m.count++
	return m.fn(req)
}

func (m *httputilMock) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return m.Do(req)
}

func newHarness(t *testing.T, stub *catalogStub) *harness {
	return newHarnessCfg(t, stub, nil)
}

func newHarnessCfg(t *testing.T, stub *catalogStub, tune func(*config.PipelineConfig)) *harness {
	t.Helper()
	cfg := testConfig(t)
	if tune != nil {
		tune(cfg)
	}

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(migrations.FS); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	clock := timeutil.NewMockClock(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	mock := &httputilMock{fn: stub.roundTrip}
	cat := catalog.NewClient(cfg, catalog.Credentials{ClientID: "id", ClientSecret: "secret"}, mock, clock)

	runner, err := NewRunner(cfg, database, cat, riceClassifier{}, testRegions(t),
		fsutil.NewMemoryFileSystem(), clock)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return &harness{
		cfg:    cfg,
		db:     database,
		runner: runner,
		mock:   mock,
		clock:  clock,
		window: runner.ScanWindow(),
	}
}

func noDataTileBounds(t *testing.T) geo.BBox {
	t.Helper()
	tiles, err := geo.Grid(testBounds, 120, 30)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	for _, tile := range tiles {
		if tile.ID.String() == "r0001_c0001" {
			return tile.Bounds
		}
	}
	t.Fatal("grid has no tile r0001_c0001")
	return geo.BBox{}
}

func TestScanEndToEnd(t *testing.T) {
	stub := &catalogStub{noDataTile: noDataTileBounds(t), green: 0.10, swir: 0.40}
	h := newHarness(t, stub)

	report, err := h.runner.Scan(context.Background(), "testland", h.window)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if got := report.Coverage.String(); got != "3 of 4 tiles" {
		t.Errorf("coverage = %q, want %q", got, "3 of 4 tiles")
	}
	if len(report.Coverage.MissingTiles) != 1 || report.Coverage.MissingTiles[0] != "r0001_c0001" {
		t.Errorf("missing tiles = %v", report.Coverage.MissingTiles)
	}

	p, err := h.db.TileProgress("testland", "r0001_c0001", h.window.Key())
	if err != nil {
		t.Fatalf("TileProgress: %v", err)
	}
	if p.Status != db.StatusNoData {
		t.Errorf("empty tile status = %s, want %s", p.Status, db.StatusNoData)
	}

	// 3 aggregated tiles x 16 rice pixels, rolled up identically at every
	// level of the hierarchy.
	for _, regionID := range []string{"t-farm", "t-province", "t-country"} {
		areas, err := h.db.ZonalStats(regionID, h.window.Key())
		if err != nil {
			t.Fatalf("ZonalStats(%s): %v", regionID, err)
		}
		if len(areas) != 1 {
			t.Fatalf("%s: got %d classes, want 1: %+v", regionID, len(areas), areas)
		}
		if areas[0].ClassID != 1 || areas[0].Pixels != 48 {
			t.Errorf("%s: %+v, want 48 rice pixels", regionID, areas[0])
		}
		if areas[0].Hectares != 48*0.09 {
			t.Errorf("%s: hectares = %f, want %f", regionID, areas[0].Hectares, 48*0.09)
		}
	}

	// Index series recorded: NDVI from red 0.05 / NIR 0.45.
	history, err := h.db.IndexHistory("t-farm", raster.IndexNDVI, 0)
	if err != nil {
		t.Fatalf("IndexHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d NDVI readings, want 1", len(history))
	}
	if diff := history[0].Value - 0.8; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("NDVI mean = %f, want 0.8", history[0].Value)
	}

	// First reading of a fresh series cannot alarm.
	if len(report.Alerts) != 0 {
		t.Errorf("unexpected alerts: %+v", report.Alerts)
	}

	// Tile index sidecar written with frame dates for composited tiles.
	idx, err := geo.ReadTileIndex(filepath.Join(h.cfg.GetDataDir(), "testland", "tile_index.json"))
	if err != nil {
		t.Fatalf("ReadTileIndex: %v", err)
	}
	if len(idx.Tiles) != 4 {
		t.Fatalf("index has %d tiles, want 4", len(idx.Tiles))
	}
	wantDates := []string{"2026-07-10", "2026-07-20"}
	for id, e := range idx.Tiles {
		if id == "r0001_c0001" {
			if len(e.FrameDates) != 0 {
				t.Errorf("no_data tile has frame dates %v", e.FrameDates)
			}
			continue
		}
		if len(e.FrameDates) != 2 || e.FrameDates[0] != wantDates[0] || e.FrameDates[1] != wantDates[1] {
			t.Errorf("tile %s frame dates = %v, want %v", id, e.FrameDates, wantDates)
		}
	}
}

func TestScanIsIdempotent(t *testing.T) {
	stub := &catalogStub{noDataTile: noDataTileBounds(t), green: 0.10, swir: 0.40}
	h := newHarness(t, stub)

	if _, err := h.runner.Scan(context.Background(), "testland", h.window); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	requests := h.mock.count

	report, err := h.runner.Scan(context.Background(), "testland", h.window)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if h.mock.count != requests {
		t.Errorf("resume re-fetched terminal tiles: %d requests grew to %d", requests, h.mock.count)
	}
	if got := report.Coverage.String(); got != "3 of 4 tiles" {
		t.Errorf("coverage after resume = %q", got)
	}
}

func TestScanRaisesSalinityAlertAndVector(t *testing.T) {
	// Green 0.40 / SWIR 0.10 puts NDSI at 0.6 everywhere.
	stub := &catalogStub{noDataTile: noDataTileBounds(t), green: 0.40, swir: 0.10}
	h := newHarness(t, stub)

	// Eight weeks of stored NDSI history for the farm. The seven clean
	// readings fill the baseline window; the last reading is already out
	// of band, so this window's excursion is the second in a row and must
	// cross from Watch into Alerting, still climbing.
	values := []float64{0.10, 0.11, 0.09, 0.10, 0.11, 0.10, 0.12, 0.45}
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		at := base.AddDate(0, 0, 7*i)
		if err := h.db.RecordIndexValue(db.IndexPoint{
			RegionID:   "t-farm",
			Index:      raster.IndexNDSI,
			WindowKey:  at.Format("2006-01-02"),
			ObservedAt: at,
			Value:      v,
		}); err != nil {
			t.Fatalf("RecordIndexValue: %v", err)
		}
	}

	// Previous window composites with saline pixels only in the western
	// half of each tile, so the current full-extent front reads as an
	// eastward advance.
	prev := catalog.TimeWindow{From: h.window.From.AddDate(0, 0, -30), To: h.window.From}
	tiles, err := geo.Grid(testBounds, 120, 30)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	for _, tile := range tiles {
		if tile.ID.String() == "r0001_c0001" {
			continue
		}
		f := raster.NewFrame("prior", tile.ID.String(), prev.To, tile.SizePx, tile.SizePx)
		for y := 0; y < tile.SizePx; y++ {
			for x := 0; x < tile.SizePx; x++ {
				i := y*tile.SizePx + x
				if x < tile.SizePx/2 {
					f.Bands[raster.BandGreen][i] = 0.40
					f.Bands[raster.BandSWIR1][i] = 0.10
				} else {
					f.Bands[raster.BandGreen][i] = 0.10
					f.Bands[raster.BandSWIR1][i] = 0.40
				}
				f.SCL[i] = 4
			}
		}
		if err := h.runner.FrameStore().Write(f, tile.Bounds, prev.Key(), nil); err != nil {
			t.Fatalf("store prior composite: %v", err)
		}
	}

	report, err := h.runner.Scan(context.Background(), "testland", h.window)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var salinity []db.Alert
	for _, a := range report.Alerts {
		if a.Kind == db.AlertSalinity {
			salinity = append(salinity, a)
		}
	}
	if len(salinity) != 1 {
		t.Fatalf("got %d salinity alerts, want 1: %+v", len(salinity), report.Alerts)
	}
	a := salinity[0]
	if a.RegionID != "t-farm" {
		t.Errorf("alert region = %s, want t-farm", a.RegionID)
	}
	if a.Severity != anomaly.SeverityHigh {
		t.Errorf("alert severity = %s, want high", a.Severity)
	}
	if a.Deviation <= 0 {
		t.Errorf("salinity alert must have a positive deviation, got %f", a.Deviation)
	}

	if report.Vectors != 1 {
		t.Fatalf("report.Vectors = %d, want 1", report.Vectors)
	}
	sv, err := h.db.LatestVector("t-farm")
	if err != nil {
		t.Fatalf("LatestVector: %v", err)
	}
	if sv == nil {
		t.Fatal("no intrusion vector stored")
	}
	if sv.Vector.Compass != "E" {
		t.Errorf("intrusion compass = %s (bearing %f), want E", sv.Vector.Compass, sv.Vector.BearingDeg)
	}
	if sv.Vector.MagnitudeKm <= 0 {
		t.Errorf("intrusion magnitude = %f, want > 0", sv.Vector.MagnitudeKm)
	}
}

func TestScanHoldsAlertWhenExcursionTurnsBack(t *testing.T) {
	// Green 0.23 / SWIR 0.17 puts NDSI at 0.15 everywhere.
	stub := &catalogStub{noDataTile: noDataTileBounds(t), green: 0.23, swir: 0.17}
	h := newHarnessCfg(t, stub, func(cfg *config.PipelineConfig) {
		cfg.DeviationSigma = ptrF(0.3)
	})

	// The salinity surge peaked two readings ago and has been falling
	// since. Inside the tight band every reading still sits out of band,
	// so the detector reaches alerting, but the smoothed series shows the
	// turn and no alert may be raised.
	values := []float64{0.10, 0.11, 0.09, 0.10, 0.11, 0.10, 0.12, 0.95, 0.60}
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		at := base.AddDate(0, 0, 7*i)
		if err := h.db.RecordIndexValue(db.IndexPoint{
			RegionID:   "t-farm",
			Index:      raster.IndexNDSI,
			WindowKey:  at.Format("2006-01-02"),
			ObservedAt: at,
			Value:      v,
		}); err != nil {
			t.Fatalf("RecordIndexValue: %v", err)
		}
	}

	report, err := h.runner.Scan(context.Background(), "testland", h.window)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Alerts) != 0 {
		t.Errorf("reverting excursion raised alerts: %+v", report.Alerts)
	}
	if report.Vectors != 0 {
		t.Errorf("report.Vectors = %d, want 0", report.Vectors)
	}

	// The window's reading is still recorded for the next run's baseline.
	hist, err := h.db.IndexHistory("t-farm", raster.IndexNDSI, 1)
	if err != nil {
		t.Fatalf("IndexHistory: %v", err)
	}
	if len(hist) != 1 || math.Abs(hist[0].Value-0.15) > 1e-3 {
		t.Fatalf("latest NDSI = %+v, want the window's 0.15 reading", hist)
	}
}

func TestSelectScenes(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 7, d, 0, 0, 0, 0, time.UTC)
	}
	scenes := []catalog.Scene{
		{ID: "e", Acquired: day(25)},
		{ID: "a", Acquired: day(1)},
		{ID: "c", Acquired: day(13)},
		{ID: "b", Acquired: day(7)},
		{ID: "d", Acquired: day(19)},
	}

	got := selectScenes(scenes, 3)
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "c" || got[2].ID != "e" {
		t.Errorf("selectScenes(5, 3) = %v, want a/c/e", sceneIDs(got))
	}

	got = selectScenes(scenes, 1)
	if len(got) != 1 || got[0].ID != "e" {
		t.Errorf("selectScenes(5, 1) = %v, want the most recent", sceneIDs(got))
	}

	got = selectScenes(scenes[:2], 3)
	if len(got) != 2 {
		t.Errorf("selectScenes(2, 3) = %v, want both unchanged", sceneIDs(got))
	}
}

func sceneIDs(scenes []catalog.Scene) []string {
	out := make([]string, len(scenes))
	for i, s := range scenes {
		out[i] = s.ID
	}
	return out
}

func TestTemporalStack(t *testing.T) {
	frame := func(id string, day int) *raster.Frame {
		f := raster.NewFrame(id, "r0000_c0000", time.Date(2026, 7, day, 0, 0, 0, 0, time.UTC), 2, 2)
		f.Bands[0][0] = float32(day)
		return f
	}

	// Padding repeats the oldest frame.
	tensor, err := temporalStack([]*raster.Frame{frame("b", 20), frame("a", 10)}, 3)
	if err != nil {
		t.Fatalf("temporalStack: %v", err)
	}
	if tensor.Frames != 3 {
		t.Fatalf("depth = %d, want 3", tensor.Frames)
	}
	for i, want := range []float32{10, 10, 20} {
		if got := tensor.At(0, i, 0, 0); got != want {
			t.Errorf("frame %d marker = %f, want %f", i, got, want)
		}
	}

	// Surplus drops oldest first.
	tensor, err = temporalStack([]*raster.Frame{frame("a", 10), frame("b", 20), frame("c", 25)}, 2)
	if err != nil {
		t.Fatalf("temporalStack: %v", err)
	}
	for i, want := range []float32{20, 25} {
		if got := tensor.At(0, i, 0, 0); got != want {
			t.Errorf("frame %d marker = %f, want %f", i, got, want)
		}
	}

	if _, err := temporalStack(nil, 3); err == nil {
		t.Error("expected error for empty frame list")
	}
}

func TestSchedulerTrigger(t *testing.T) {
	stub := &catalogStub{noDataTile: noDataTileBounds(t), green: 0.10, swir: 0.40}
	h := newHarness(t, stub)
	sched := NewScheduler(h.cfg, h.runner, h.db, h.clock)

	if _, err := sched.Trigger("atlantis"); err == nil {
		t.Error("expected error for unknown region")
	}

	id, err := sched.Trigger("")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	run, err := h.db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != db.RunQueued || run.Region != "testland" {
		t.Errorf("queued run = %+v", run)
	}

	sched.execute(context.Background(), id)

	run, err = h.db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun after execute: %v", err)
	}
	if run.Status != db.RunCompleted {
		t.Fatalf("run status = %s (%s), want completed", run.Status, run.Detail)
	}
	if !strings.Contains(run.Detail, "3 of 4 tiles") {
		t.Errorf("run detail = %q, want coverage summary", run.Detail)
	}
	if run.StartedAt == nil || run.FinishedAt == nil {
		t.Error("run lifecycle timestamps missing")
	}
}
