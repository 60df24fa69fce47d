// Package sweeper runs the retention sweep on a cron schedule, out of band
// from request handling.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/retention"
)

// Sweeper schedules periodic DeleteUnused runs against the retention engine.
type Sweeper struct {
	cron   *cron.Cron
	engine *retention.Engine
	cfg    config.RetentionConfig

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
}

// New creates a Sweeper; it does nothing until Start.
func New(engine *retention.Engine, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		engine: engine,
		cfg:    cfg,
	}
}

// Start registers the sweep entry and starts the cron loop.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(s.cfg.CronExpr, s.runSweep)
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	logging.Op().Info("retention sweeper started",
		"cron", s.cfg.CronExpr,
		"threshold_days", s.cfg.ThresholdDays,
		"dry_run", s.cfg.DryRun)
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce triggers a sweep immediately, outside the schedule. Used by the
// admin CLI.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int64, error) {
	return s.engine.DeleteUnused(ctx, s.cfg.ThresholdDays, "", s.cfg.DryRun)
}

func (s *Sweeper) runSweep() {
	s.mu.Lock()
	if s.running {
		// A previous sweep is still going; skip this tick.
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log := logging.Op()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	deleted, err := s.engine.DeleteUnused(ctx, s.cfg.ThresholdDays, "", s.cfg.DryRun)
	if err != nil {
		metrics.RecordRetentionSweep(false)
		log.Error("retention sweep failed", "error", err)
		return
	}
	metrics.RecordRetentionSweep(true)

	var total int64
	for _, n := range deleted {
		total += n
	}
	log.Info("retention sweep finished",
		"duration", time.Since(start).Round(time.Millisecond),
		"collections", len(deleted),
		"rows", total,
		"dry_run", s.cfg.DryRun)
}
