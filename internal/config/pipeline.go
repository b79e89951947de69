package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/cropwatch/internal/geo"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Composite policies accepted by composite_policy.
const (
	CompositeMedian     = "median"
	CompositeMostRecent = "most_recent"
)

// PipelineConfig represents the root configuration for the acquisition and
// analysis pipeline. The schema matches the /api/config endpoint so the same
// JSON can be used for both startup configuration and inspection at runtime.
type PipelineConfig struct {
	// Grid params
	TileEdgeMeters   *float64 `json:"tile_edge_meters,omitempty"`
	ResolutionMeters *float64 `json:"resolution_meters,omitempty"`

	// Acquisition params
	CatalogURL        *string  `json:"catalog_url,omitempty"`
	CatalogCollection *string  `json:"catalog_collection,omitempty"`
	RadarCollection   *string  `json:"radar_collection,omitempty"`
	CloudCeilingPct   *float64 `json:"cloud_ceiling_pct,omitempty"`
	MaxAttempts       *int     `json:"max_attempts,omitempty"`
	BackoffBase       *string  `json:"backoff_base,omitempty"` // duration string like "2s"
	CatalogRatePerSec *float64 `json:"catalog_rate_per_sec,omitempty"`
	CatalogBurst      *int     `json:"catalog_burst,omitempty"`
	Workers           *int     `json:"workers,omitempty"`
	ScanInterval      *string  `json:"scan_interval,omitempty"` // duration string like "6h"
	WindowDays        *int     `json:"window_days,omitempty"`
	FrameCount        *int     `json:"frame_count,omitempty"`
	CompositePolicy   *string  `json:"composite_policy,omitempty"`

	// Model params
	ModelURL     *string `json:"model_url,omitempty"`
	ModelVersion *string `json:"model_version,omitempty"`
	PatchSizePx  *int    `json:"patch_size_px,omitempty"`
	BandCount    *int    `json:"band_count,omitempty"`
	ClassCount   *int    `json:"class_count,omitempty"`

	// Anomaly params
	BaselineWindow      *int     `json:"baseline_window,omitempty"`
	DeviationSigma      *float64 `json:"deviation_sigma,omitempty"`
	ConsecutiveReadings *int     `json:"consecutive_readings,omitempty"`
	SalinityNDSILimit   *float64 `json:"salinity_ndsi_limit,omitempty"`

	// Paths
	DataDir     *string `json:"data_dir,omitempty"`
	DBPath      *string `json:"db_path,omitempty"`
	RegionsFile *string `json:"regions_file,omitempty"`

	// Named scan regions. The key is the region name used by the scan
	// subcommand and the jobs API.
	Regions       map[string]geo.BBox `json:"regions,omitempty"`
	DefaultRegion *string             `json:"default_region,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
// Use LoadPipelineConfig to load actual values from the defaults file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical pipeline defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.TileEdgeMeters != nil && *c.TileEdgeMeters <= 0 {
		return fmt.Errorf("tile_edge_meters must be positive, got %f", *c.TileEdgeMeters)
	}
	if c.ResolutionMeters != nil && *c.ResolutionMeters <= 0 {
		return fmt.Errorf("resolution_meters must be positive, got %f", *c.ResolutionMeters)
	}
	if c.CloudCeilingPct != nil {
		if *c.CloudCeilingPct < 0 || *c.CloudCeilingPct > 100 {
			return fmt.Errorf("cloud_ceiling_pct must be between 0 and 100, got %f", *c.CloudCeilingPct)
		}
	}
	if c.MaxAttempts != nil && *c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", *c.MaxAttempts)
	}
	if c.BackoffBase != nil && *c.BackoffBase != "" {
		if _, err := time.ParseDuration(*c.BackoffBase); err != nil {
			return fmt.Errorf("invalid backoff_base '%s': %w", *c.BackoffBase, err)
		}
	}
	if c.ScanInterval != nil && *c.ScanInterval != "" {
		if _, err := time.ParseDuration(*c.ScanInterval); err != nil {
			return fmt.Errorf("invalid scan_interval '%s': %w", *c.ScanInterval, err)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.WindowDays != nil && *c.WindowDays < 1 {
		return fmt.Errorf("window_days must be at least 1, got %d", *c.WindowDays)
	}
	if c.FrameCount != nil && *c.FrameCount < 1 {
		return fmt.Errorf("frame_count must be at least 1, got %d", *c.FrameCount)
	}
	if c.CompositePolicy != nil {
		switch *c.CompositePolicy {
		case CompositeMedian, CompositeMostRecent:
		default:
			return fmt.Errorf("composite_policy must be %q or %q, got %q",
				CompositeMedian, CompositeMostRecent, *c.CompositePolicy)
		}
	}
	if c.DeviationSigma != nil && *c.DeviationSigma <= 0 {
		return fmt.Errorf("deviation_sigma must be positive, got %f", *c.DeviationSigma)
	}
	if c.BaselineWindow != nil && *c.BaselineWindow < 2 {
		return fmt.Errorf("baseline_window must be at least 2, got %d", *c.BaselineWindow)
	}
	if c.ConsecutiveReadings != nil && *c.ConsecutiveReadings < 1 {
		return fmt.Errorf("consecutive_readings must be at least 1, got %d", *c.ConsecutiveReadings)
	}
	for name, bb := range c.Regions {
		if err := bb.Validate(); err != nil {
			return fmt.Errorf("region %q: %w", name, err)
		}
	}
	if c.DefaultRegion != nil {
		if _, ok := c.Regions[*c.DefaultRegion]; !ok {
			return fmt.Errorf("default_region %q not present in regions", *c.DefaultRegion)
		}
	}
	return nil
}

// GetTileEdgeMeters returns the tile_edge_meters value or the default.
func (c *PipelineConfig) GetTileEdgeMeters() float64 {
	if c.TileEdgeMeters == nil {
		return 6720.0 // 224 px at 30 m
	}
	return *c.TileEdgeMeters
}

// GetResolutionMeters returns the resolution_meters value or the default.
func (c *PipelineConfig) GetResolutionMeters() float64 {
	if c.ResolutionMeters == nil {
		return 30.0
	}
	return *c.ResolutionMeters
}

// GetCatalogURL returns the catalog_url value or the default.
func (c *PipelineConfig) GetCatalogURL() string {
	if c.CatalogURL == nil || *c.CatalogURL == "" {
		return "https://catalogue.dataspace.copernicus.eu"
	}
	return *c.CatalogURL
}

// GetCatalogCollection returns the catalog_collection value or the default.
func (c *PipelineConfig) GetCatalogCollection() string {
	if c.CatalogCollection == nil || *c.CatalogCollection == "" {
		return "sentinel-2-l2a"
	}
	return *c.CatalogCollection
}

// GetRadarCollection returns the radar_collection value or the default.
// The radar collection is the cloud-independent fallback when no optical
// scene clears the cloud ceiling.
func (c *PipelineConfig) GetRadarCollection() string {
	if c.RadarCollection == nil || *c.RadarCollection == "" {
		return "sentinel-1-grd"
	}
	return *c.RadarCollection
}

// GetCloudCeilingPct returns the cloud_ceiling_pct value or the default.
func (c *PipelineConfig) GetCloudCeilingPct() float64 {
	if c.CloudCeilingPct == nil {
		return 30.0
	}
	return *c.CloudCeilingPct
}

// GetMaxAttempts returns the max_attempts value or the default.
func (c *PipelineConfig) GetMaxAttempts() int {
	if c.MaxAttempts == nil {
		return 3
	}
	return *c.MaxAttempts
}

// GetBackoffBase parses and returns the BackoffBase as a time.Duration.
func (c *PipelineConfig) GetBackoffBase() time.Duration {
	if c.BackoffBase == nil || *c.BackoffBase == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.BackoffBase)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetCatalogRatePerSec returns the catalog_rate_per_sec value or the default.
func (c *PipelineConfig) GetCatalogRatePerSec() float64 {
	if c.CatalogRatePerSec == nil {
		return 2.0
	}
	return *c.CatalogRatePerSec
}

// GetCatalogBurst returns the catalog_burst value or the default.
func (c *PipelineConfig) GetCatalogBurst() int {
	if c.CatalogBurst == nil {
		return 4
	}
	return *c.CatalogBurst
}

// GetWorkers returns the workers value or the default.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetScanInterval parses and returns the ScanInterval as a time.Duration.
func (c *PipelineConfig) GetScanInterval() time.Duration {
	if c.ScanInterval == nil || *c.ScanInterval == "" {
		return 6 * time.Hour // default
	}
	d, err := time.ParseDuration(*c.ScanInterval)
	if err != nil {
		return 6 * time.Hour // default on parse error
	}
	return d
}

// GetWindowDays returns the window_days value or the default.
func (c *PipelineConfig) GetWindowDays() int {
	if c.WindowDays == nil {
		return 30
	}
	return *c.WindowDays
}

// GetFrameCount returns the frame_count value or the default.
func (c *PipelineConfig) GetFrameCount() int {
	if c.FrameCount == nil {
		return 3
	}
	return *c.FrameCount
}

// GetCompositePolicy returns the composite_policy value or the default.
func (c *PipelineConfig) GetCompositePolicy() string {
	if c.CompositePolicy == nil || *c.CompositePolicy == "" {
		return CompositeMedian
	}
	return *c.CompositePolicy
}

// GetModelURL returns the model_url value or the default.
func (c *PipelineConfig) GetModelURL() string {
	if c.ModelURL == nil || *c.ModelURL == "" {
		return "http://localhost:9090"
	}
	return *c.ModelURL
}

// GetModelVersion returns the model_version value or the default.
func (c *PipelineConfig) GetModelVersion() string {
	if c.ModelVersion == nil || *c.ModelVersion == "" {
		return "croptype-v1"
	}
	return *c.ModelVersion
}

// GetPatchSizePx returns the patch_size_px value or the default.
func (c *PipelineConfig) GetPatchSizePx() int {
	if c.PatchSizePx == nil {
		return 224
	}
	return *c.PatchSizePx
}

// GetBandCount returns the band_count value or the default.
func (c *PipelineConfig) GetBandCount() int {
	if c.BandCount == nil {
		return 6
	}
	return *c.BandCount
}

// GetClassCount returns the class_count value or the default.
func (c *PipelineConfig) GetClassCount() int {
	if c.ClassCount == nil {
		return 13
	}
	return *c.ClassCount
}

// GetBaselineWindow returns the baseline_window value or the default.
func (c *PipelineConfig) GetBaselineWindow() int {
	if c.BaselineWindow == nil {
		return 7
	}
	return *c.BaselineWindow
}

// GetDeviationSigma returns the deviation_sigma value or the default.
func (c *PipelineConfig) GetDeviationSigma() float64 {
	if c.DeviationSigma == nil {
		return 2.0
	}
	return *c.DeviationSigma
}

// GetConsecutiveReadings returns the consecutive_readings value or the default.
func (c *PipelineConfig) GetConsecutiveReadings() int {
	if c.ConsecutiveReadings == nil {
		return 2
	}
	return *c.ConsecutiveReadings
}

// GetSalinityNDSILimit returns the salinity_ndsi_limit value or the default.
func (c *PipelineConfig) GetSalinityNDSILimit() float64 {
	if c.SalinityNDSILimit == nil {
		return 0.3
	}
	return *c.SalinityNDSILimit
}

// GetDataDir returns the data_dir value or the default.
func (c *PipelineConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return "data"
	}
	return *c.DataDir
}

// GetDBPath returns the db_path value or the default.
func (c *PipelineConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "cropwatch.db"
	}
	return *c.DBPath
}

// GetRegionsFile returns the regions_file value or the default.
func (c *PipelineConfig) GetRegionsFile() string {
	if c.RegionsFile == nil || *c.RegionsFile == "" {
		return "config/regions.json"
	}
	return *c.RegionsFile
}

// GetDefaultRegion returns the default_region value, or the empty string when
// no regions are configured.
func (c *PipelineConfig) GetDefaultRegion() string {
	if c.DefaultRegion != nil {
		return *c.DefaultRegion
	}
	return ""
}

// RegionBBox looks up a named scan region. The empty name resolves to the
// configured default region.
func (c *PipelineConfig) RegionBBox(name string) (geo.BBox, error) {
	if name == "" {
		name = c.GetDefaultRegion()
	}
	bb, ok := c.Regions[name]
	if !ok {
		return geo.BBox{}, fmt.Errorf("unknown region %q", name)
	}
	return bb, nil
}
