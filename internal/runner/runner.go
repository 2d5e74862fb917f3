// Package runner is the time-driven invoker for the scheduling core. A
// minute-granularity tick drives job processing, trigger execution and
// stuck-job recovery; a daily cron entry drives retention cleanup. Ticks are
// assumed non-overlapping; if one runs long the next is skipped rather than
// stacked.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pulse/internal/config"
	"pulse/internal/job"
	"pulse/internal/trigger"
	logx "pulse/pkg/logx"
)

type Runner struct {
	processor *job.Processor
	executor  *trigger.Executor
	cfg       config.RunnerSettings
	log       logx.Logger

	c       *cron.Cron
	ticking atomic.Bool

	mu   sync.Mutex
	last Snapshot
}

// Snapshot is the most recent tick's outcome, for diagnostics.
type Snapshot struct {
	LastTickAt     time.Time
	LastTickTook   time.Duration
	Jobs           job.Summary
	Triggers       trigger.Summary
	StuckReset     int64
	SkippedOverlap uint64
}

func New(processor *job.Processor, executor *trigger.Executor, cfg config.RunnerSettings, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		processor: processor,
		executor:  executor,
		cfg:       cfg,
		log:       log,
	}
}

// Start registers the tick and cleanup entries and starts the cron loop.
// The provided ctx bounds every tick; Start itself returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.c = cron.New()

	tickSpec := fmt.Sprintf("@every %s", r.cfg.Tick)
	if _, err := r.c.AddFunc(tickSpec, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	if _, err := r.c.AddFunc(r.cfg.CleanupAt, func() { r.cleanup(ctx) }); err != nil {
		return fmt.Errorf("register cleanup %q: %w", r.cfg.CleanupAt, err)
	}

	r.c.Start()
	r.log.Info("runner started",
		logx.Duration("tick", r.cfg.Tick),
		logx.String("cleanup_at", r.cfg.CleanupAt))
	return nil
}

// Stop halts the cron loop and waits for an in-flight tick to drain, bounded
// by ctx.
func (r *Runner) Stop(ctx context.Context) {
	if r.c == nil {
		return
	}
	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("runner stopped")
}

// Tick runs one full cycle immediately. Exposed so the daemon can process
// backlog at startup instead of waiting out the first interval.
func (r *Runner) Tick(ctx context.Context) {
	r.tick(ctx)
}

func (r *Runner) tick(ctx context.Context) {
	if !r.ticking.CompareAndSwap(false, true) {
		r.mu.Lock()
		r.last.SkippedOverlap++
		r.mu.Unlock()
		r.log.Warn("tick still running, skipping")
		return
	}
	defer r.ticking.Store(false)

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	jobs, err := r.processor.ProcessDueJobs(tctx)
	if err != nil {
		r.log.Error("process due jobs failed", logx.Err(err))
	}
	triggers, err := r.executor.ProcessDueTriggers(tctx)
	if err != nil {
		r.log.Error("process due triggers failed", logx.Err(err))
	}
	stuck, err := r.processor.ResetStuckJobs(tctx)
	if err != nil {
		r.log.Error("reset stuck jobs failed", logx.Err(err))
	}

	took := time.Since(start)
	r.mu.Lock()
	r.last.LastTickAt = start
	r.last.LastTickTook = took
	r.last.Jobs = jobs
	r.last.Triggers = triggers
	r.last.StuckReset = stuck
	r.mu.Unlock()

	if took > r.cfg.Tick/2 {
		r.log.Warn("slow tick", logx.Duration("took", took))
	}
}

func (r *Runner) cleanup(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	removed, err := r.processor.CleanupOldJobs(tctx)
	if err != nil {
		r.log.Error("job cleanup failed", logx.Err(err))
	}
	logsRemoved, err := r.executor.CleanupOldLogs(tctx, r.cfg.LogRetention)
	if err != nil {
		r.log.Error("execution log cleanup failed", logx.Err(err))
	}
	r.log.Info("cleanup done",
		logx.Int64("jobs_removed", removed),
		logx.Int64("logs_removed", logsRemoved))
}

// SnapshotNow returns a copy of the latest tick diagnostics.
func (r *Runner) SnapshotNow() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
