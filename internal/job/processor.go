package job

import (
	"context"
	"fmt"
	"math"
	"time"

	logx "pulse/pkg/logx"
)

// ProcessorConfig controls batch size, stuck detection and retention.
type ProcessorConfig struct {
	BatchSize    int           // default 50
	StuckAfter   time.Duration // default 5m
	JobRetention time.Duration // default 7 days
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 7 * 24 * time.Hour
	}
	return c
}

// Processor drains due jobs each tick and drives the retry/failure state
// machine. One instance per daemon; ticks are assumed non-overlapping, and
// the conditional claim keeps an accidental overlap from double-running a job.
type Processor struct {
	store Store
	reg   *Registry
	log   logx.Logger
	cfg   ProcessorConfig

	now func() time.Time
}

func NewProcessor(store Store, reg *Registry, cfg ProcessorConfig, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{store: store, reg: reg, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

// ProcessDueJobs claims and executes due pending jobs, earliest first.
// Per-item failures never abort the batch; only the initial query can return
// an error. Retried jobs count in neither summary bucket.
func (p *Processor) ProcessDueJobs(ctx context.Context) (Summary, error) {
	var sum Summary
	now := p.now()

	due, err := p.store.DueJobs(ctx, now.Unix(), p.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("select due jobs: %w", err)
	}

	for _, j := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		claimed, err := p.store.ClaimJob(ctx, j.ID, now)
		if err != nil {
			p.log.Warn("job claim failed", logx.String("id", j.ID), logx.Err(err))
			continue
		}
		if !claimed {
			// Another invoker won the row, or it was cancelled underneath us.
			continue
		}
		attempts := j.Attempts + 1

		execErr := p.dispatch(ctx, j)
		if execErr == nil {
			if err := p.store.CompleteJob(ctx, j.ID, p.now()); err != nil {
				p.log.Error("job completion not recorded", logx.String("id", j.ID), logx.Err(err))
				continue
			}
			sum.Processed++
			p.log.Debug("job completed",
				logx.String("id", j.ID), logx.String("type", string(j.Type)),
				logx.Int("attempts", attempts))
			continue
		}

		if attempts < j.MaxAttempts {
			delay := RetryDelay(attempts)
			at := p.now().Add(delay)
			if err := p.store.RetryJob(ctx, j.ID, at.Unix(), execErr.Error()); err != nil {
				p.log.Error("job retry not recorded", logx.String("id", j.ID), logx.Err(err))
				continue
			}
			p.log.Warn("job retry scheduled",
				logx.String("id", j.ID), logx.String("type", string(j.Type)),
				logx.Int("attempt", attempts), logx.Duration("delay", delay),
				logx.Err(execErr))
			continue
		}

		if err := p.store.FailJob(ctx, j.ID, p.now(), execErr.Error()); err != nil {
			p.log.Error("job failure not recorded", logx.String("id", j.ID), logx.Err(err))
			continue
		}
		sum.Failed++
		p.log.Warn("job failed permanently",
			logx.String("id", j.ID), logx.String("type", string(j.Type)),
			logx.Int("attempts", attempts), logx.Err(execErr))
	}
	return sum, nil
}

// dispatch runs the handler with panic isolation so one bad handler cannot
// take down a batch.
func (p *Processor) dispatch(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.reg.Dispatch(ctx, j)
}

// ResetStuckJobs rescues jobs stuck in processing (claimed longer than
// StuckAfter ago): retryable ones go back to pending, exhausted ones fail
// terminally. Returns the count returned to pending.
func (p *Processor) ResetStuckJobs(ctx context.Context) (int64, error) {
	now := p.now()
	reset, failed, err := p.store.ResetStuckJobs(ctx, now, now.Add(-p.cfg.StuckAfter))
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		p.log.Warn("stuck jobs reset", logx.Int64("count", reset))
	}
	if failed > 0 {
		p.log.Warn("stuck jobs failed permanently", logx.Int64("count", failed))
	}
	return reset, nil
}

// CleanupOldJobs hard-deletes terminal jobs processed before the retention
// window.
func (p *Processor) CleanupOldJobs(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.cfg.JobRetention)
	n, err := p.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info("old jobs deleted", logx.Int64("count", n))
	}
	return n, nil
}

// RetryDelay is the backoff before retry number `attempts`:
// 3^attempts minutes (3m, 9m, 27m for attempts 1, 2, 3).
func RetryDelay(attempts int) time.Duration {
	return time.Duration(math.Pow(3, float64(attempts))) * time.Minute
}
