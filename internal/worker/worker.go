package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
)

type Config struct {
	// PollInterval bounds how long an idle worker waits before checking the
	// job table again when no wake-up arrives.
	PollInterval time.Duration
	// JobDeadline caps one run. It must stay below the scheduler's liveness
	// timeout so a run always finishes before the reaper can reclaim its job.
	JobDeadline time.Duration
}

type Worker struct {
	name      string
	jobs      JobQueue
	processor JobProcessor
	consumer  Consumer
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New builds a worker. consumer may be nil, in which case the worker only polls.
func New(name string, jobs JobQueue, processor JobProcessor, consumer Consumer, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Worker{
		name:      name,
		jobs:      jobs,
		processor: processor,
		consumer:  consumer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "syncer.worker." + w.name})
	slog.InfoContext(ctx, "worker started", "poll_interval", w.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
		}

		if err := w.drain(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "claim loop error", "error", err)
		}
		w.wait(ctx)
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

// drain processes due jobs until none are left.
func (w *Worker) drain(ctx context.Context) error {
	for {
		select {
		case <-w.stopCh:
			return nil
		default:
		}

		job, err := w.jobs.Claim(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		w.runJob(ctx, job)
	}
}

// RunOnce claims and runs at most one job. Reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.Claim(ctx)
	if err != nil || job == nil {
		return false, err
	}
	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *model.SyncJob) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:         logger.Ptr(job.ID),
		IntegrationID: logger.Ptr(job.IntegrationID),
		UserID:        logger.Ptr(job.UserID),
	})
	span := logger.StartSpan(ctx, "worker.sync_job")
	defer span.End()
	ctx = span.Context()

	slog.InfoContext(ctx, "processing sync job",
		"trigger", job.Trigger,
		"retry_count", job.RetryCount,
		"data_types", model.DataTypeStrings(job.DataTypes))

	start := time.Now()
	cause := w.processSafe(ctx, job)
	if cause != nil {
		span.RecordError(cause)
	}

	// Detached so a shutdown mid-run still records the outcome.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	saved, err := w.jobs.Finish(finishCtx, job, cause)
	if err != nil {
		slog.ErrorContext(ctx, "failed to record job outcome", "error", err, "cause", cause)
		return
	}

	if cause != nil {
		slog.WarnContext(ctx, "sync job failed",
			"error", cause,
			"status", saved.Status,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.InfoContext(ctx, "sync job completed", "duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) processSafe(ctx context.Context, job *model.SyncJob) (err error) {
	if w.cfg.JobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobDeadline)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in sync job", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.ProcessJob(ctx, job)
}

// wait blocks until a wake-up arrives, the poll interval passes, or shutdown.
func (w *Worker) wait(ctx context.Context) {
	if w.consumer == nil {
		timer := time.NewTimer(w.cfg.PollInterval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-w.stopCh:
		case <-timer.C:
		}
		return
	}

	messages, err := w.consumer.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "wake-up read failed, falling back to poll", "error", err)
			select {
			case <-ctx.Done():
			case <-w.stopCh:
			case <-time.After(w.cfg.PollInterval):
			}
		}
		return
	}
	for _, msg := range messages {
		w.ack(ctx, msg)
	}
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to ack wake-up", "error", err, "message_id", msg.ID)
	}
}

// Pool runs several workers against the same queue.
type Pool struct {
	workers []*Worker
}

func NewPool(n int, jobs JobQueue, processor JobProcessor, consumer Consumer, cfg Config) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, New(fmt.Sprintf("w%d", i), jobs, processor, consumer, cfg))
	}
	return p
}

// Run blocks until every worker exits. Cancellation is not reported as an error.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}
