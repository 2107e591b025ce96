package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/internal/lock"
)

type PeriodicConfig struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the task once before the first tick.
	RunOnStart bool
	// Locker, when set, makes the task a singleton across processes.
	Locker  lock.Locker
	LockTTL time.Duration
}

// Periodic runs a maintenance task on a fixed interval until stopped.
type Periodic struct {
	cfg  PeriodicConfig
	task func(ctx context.Context) error

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPeriodic(cfg PeriodicConfig, task func(ctx context.Context) error) *Periodic {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Periodic{
		cfg:       cfg,
		task:      task,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (p *Periodic) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncer.worker." + p.cfg.Name,
	})

	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "periodic task started", "interval", p.cfg.Interval)

	if p.cfg.RunOnStart {
		p.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			slog.InfoContext(ctx, "periodic task stopping")
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Periodic) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Periodic) runOnce(ctx context.Context) {
	if p.cfg.Locker != nil {
		acquireCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		release, err := p.cfg.Locker.Acquire(acquireCtx, "periodic:"+p.cfg.Name, p.cfg.LockTTL)
		cancel()
		if errors.Is(err, lock.ErrNotAcquired) {
			slog.DebugContext(ctx, "another instance holds the task lock, skipping")
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "failed to acquire task lock", "error", err)
			return
		}
		defer release()
	}

	start := time.Now()
	if err := p.task(ctx); err != nil {
		slog.ErrorContext(ctx, "periodic task failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "periodic task finished", "duration_ms", time.Since(start).Milliseconds())
}

type MaintenanceConfig struct {
	ReaperInterval     time.Duration
	RescheduleInterval time.Duration
	CleanupInterval    time.Duration
	StaleWakeupMinIdle time.Duration
	StaleWakeupBatch   int64
	Locker             lock.Locker
}

// NewReaper returns jobs orphaned by crashed workers to pending and clears
// their stale wake-ups. acker may be nil.
func NewReaper(m Maintainer, acker StaleAcker, cfg MaintenanceConfig) *Periodic {
	return NewPeriodic(PeriodicConfig{
		Name:       "reaper",
		Interval:   cfg.ReaperInterval,
		RunOnStart: true,
		Locker:     cfg.Locker,
	}, func(ctx context.Context) error {
		n, err := m.ReclaimStale(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.InfoContext(ctx, "reclaimed orphaned jobs", "count", n)
		}
		if acker == nil {
			return nil
		}
		acked, err := acker.AckStale(ctx, cfg.StaleWakeupMinIdle, cfg.StaleWakeupBatch)
		if err != nil {
			return err
		}
		if acked > 0 {
			slog.InfoContext(ctx, "acknowledged stale wake-ups", "count", acked)
		}
		return nil
	})
}

// NewRescheduler enqueues due integrations, once at startup and then on every tick.
func NewRescheduler(m Maintainer, cfg MaintenanceConfig) *Periodic {
	return NewPeriodic(PeriodicConfig{
		Name:       "rescheduler",
		Interval:   cfg.RescheduleInterval,
		RunOnStart: true,
		Locker:     cfg.Locker,
	}, func(ctx context.Context) error {
		_, err := m.ScheduleDue(ctx)
		return err
	})
}

// NewJanitor deletes terminal jobs past retention and expired OAuth states.
func NewJanitor(m Maintainer, states StateCleaner, cfg MaintenanceConfig) *Periodic {
	return NewPeriodic(PeriodicConfig{
		Name:     "janitor",
		Interval: cfg.CleanupInterval,
		Locker:   cfg.Locker,
	}, func(ctx context.Context) error {
		jobs, err := m.Cleanup(ctx)
		if err != nil {
			return err
		}
		flows, err := states.CleanupExpiredStates(ctx)
		if err != nil {
			return err
		}
		if jobs > 0 || flows > 0 {
			slog.InfoContext(ctx, "cleanup finished", "jobs_deleted", jobs, "oauth_states_deleted", flows)
		}
		return nil
	})
}
