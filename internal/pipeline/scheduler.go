package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/cropwatch/internal/catalog"
	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/db"
	"github.com/banshee-data/cropwatch/internal/monitoring"
	"github.com/banshee-data/cropwatch/internal/timeutil"
)

// Scheduler owns the scan cadence: a periodic tick per the configured
// interval plus manual triggers from the API. Scans run one at a time.
type Scheduler struct {
	cfg     *config.PipelineConfig
	runner  *Runner
	db      *db.DB
	clock   timeutil.Clock
	trigger chan string // run IDs queued by Trigger
}

func NewScheduler(cfg *config.PipelineConfig, runner *Runner, database *db.DB, clock timeutil.Clock) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		db:      database,
		clock:   clock,
		trigger: make(chan string, 8),
	}
}

// Trigger queues an on-demand scan for the named scan area (the configured
// default when empty) and returns the run ID to poll.
func (s *Scheduler) Trigger(region string) (string, error) {
	if region == "" {
		region = s.cfg.GetDefaultRegion()
	}
	if _, err := s.cfg.RegionBBox(region); err != nil {
		return "", err
	}
	window := s.runner.ScanWindow()
	id, err := s.db.CreateRun(region, window.Key(), s.clock.Now().UTC())
	if err != nil {
		return "", err
	}
	select {
	case s.trigger <- id:
	default:
		return "", fmt.Errorf("scan queue full")
	}
	return id, nil
}

// Run blocks until ctx is cancelled, executing queued and scheduled scans.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.GetScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-s.trigger:
			s.execute(ctx, id)
		case <-ticker.C():
			region := s.cfg.GetDefaultRegion()
			id, err := s.db.CreateRun(region, s.runner.ScanWindow().Key(), s.clock.Now().UTC())
			if err != nil {
				monitoring.Logf("scheduler: create run: %v", err)
				continue
			}
			s.execute(ctx, id)
		}
	}
}

// execute drives one recorded run through its lifecycle.
func (s *Scheduler) execute(ctx context.Context, runID string) {
	run, err := s.db.GetRun(runID)
	if err != nil || run == nil {
		monitoring.Logf("scheduler: run %s: %v", runID, err)
		return
	}
	if err := s.db.UpdateRunStatus(runID, db.RunRunning, "", s.clock.Now().UTC()); err != nil {
		monitoring.Logf("scheduler: run %s: %v", runID, err)
		return
	}

	window, err := catalog.ParseWindowKey(run.WindowKey)
	if err != nil {
		window = s.runner.ScanWindow()
	}
	report, err := s.runner.Scan(ctx, run.Region, window)
	now := s.clock.Now().UTC()
	if err != nil {
		if uerr := s.db.UpdateRunStatus(runID, db.RunFailed, err.Error(), now); uerr != nil {
			monitoring.Logf("scheduler: run %s: %v", runID, uerr)
		}
		return
	}
	detail := fmt.Sprintf("%s, %d alerts, %d vectors",
		report.Coverage, len(report.Alerts), report.Vectors)
	if err := s.db.UpdateRunStatus(runID, db.RunCompleted, detail, now); err != nil {
		monitoring.Logf("scheduler: run %s: %v", runID, err)
	}
}
