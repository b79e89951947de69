package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/cropwatch/internal/catalog"
	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/geo"
	"github.com/banshee-data/cropwatch/internal/httputil"
	"github.com/banshee-data/cropwatch/internal/inference"
	"github.com/banshee-data/cropwatch/internal/pipeline"
	"github.com/banshee-data/cropwatch/migrations"
)

func loadConfig(path string) *config.PipelineConfig {
	if path == "" {
		return config.MustLoadDefaultConfig()
	}
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", path, err)
	}
	return cfg
}

func credentialsFromEnv() catalog.Credentials {
	return catalog.Credentials{
		ClientID:     os.Getenv("CATALOG_CLIENT_ID"),
		ClientSecret: os.Getenv("CATALOG_CLIENT_SECRET"),
	}
}

// buildPipeline wires the shared stack: database with migrations applied,
// region hierarchy, catalog client, classifier, and the scan runner.
func buildPipeline(cfg *config.PipelineConfig) (*db.DB, *pipeline.Runner, *inference.HTTPClassifier, error) {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.MigrateUp(migrations.FS); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	regions, err := geo.LoadRegions(cfg.GetRegionsFile())
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to load regions: %w", err)
	}

	h := httputil.NewStandardClient(nil)
	cat := catalog.NewClient(cfg, credentialsFromEnv(), h, nil)
	cls := inference.NewHTTPClassifier(cfg, h)

	runner, err := pipeline.NewRunner(cfg, database, cat, cls, regions, nil, nil)
	if err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return database, runner, cls, nil
}

// modelHealthTimeout bounds the startup health check of the classifier service.
const modelHealthTimeout = 10 * time.Second

// checkModel verifies the classifier service is reachable and serving the
// configured model before any tile work starts. -skip-model-check bypasses
// the check for runs that will not reach classification.
func checkModel(cfg *config.PipelineConfig, cls *inference.HTTPClassifier) error {
	if *skipModel {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), modelHealthTimeout)
	defer cancel()
	if err := cls.Health(ctx); err != nil {
		return fmt.Errorf("model server unhealthy at %s: %w", cfg.GetModelURL(), err)
	}
	return nil
}

func runMigrate(cfg *config.PipelineConfig) error {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	if err := database.MigrateUp(migrations.FS); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Printf("database %s migrated", cfg.GetDBPath())
	return nil
}

// runScan performs one scan of a region and exits. An empty region name
// scans the configured default region.
func runScan(cfg *config.PipelineConfig, region string) error {
	database, runner, cls, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// Check before any frames are fetched. A dead model otherwise surfaces
	// as per-tile failures after the composites were already built.
	if err := checkModel(cfg, cls); err != nil {
		return err
	}

	if region == "" {
		region = cfg.GetDefaultRegion()
	}
	window := runner.ScanWindow()
	if *noResume {
		if _, err := database.ResetRegion(region, window.Key()); err != nil {
			return fmt.Errorf("reset scan progress: %w", err)
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := runner.Scan(ctx, region, window)
	if err != nil {
		return fmt.Errorf("scan of %s failed: %w", region, err)
	}
	log.Printf("scan of %s complete: %s, %d alerts, %d vectors",
		region, report.Coverage, len(report.Alerts), report.Vectors)
	return nil
}
