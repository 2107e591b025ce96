// Package scheduler owns the sync job queue: enqueueing, cancellation, the
// periodic sweep that keeps integrations fresh, crash recovery of orphaned
// jobs, and the retry state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/id"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/store"
)

var (
	ErrJobNotCancellable = errors.New("sync job is not pending")
	ErrJobNotFound       = errors.New("sync job not found")
)

type Config struct {
	MaxRetries int
	MaxJitter  time.Duration
	// JobTimeout is the liveness timeout after which a running job is presumed orphaned.
	JobTimeout   time.Duration
	JobRetention time.Duration
	// SweepLimit bounds how many integrations one ScheduleDue pass enqueues.
	SweepLimit int32
}

type Scheduler struct {
	stores   store.StoreProvider
	tx       store.TxRunner
	producer queue.Producer
	clock    clock.Clock
	metrics  metrics.Recorder
	jitter   func(max time.Duration) time.Duration
	cfg      Config
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithJitter replaces the random jitter source.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

func New(stores store.StoreProvider, tx store.TxRunner, producer queue.Producer, cfg Config, opts ...Option) *Scheduler {
	if producer == nil {
		producer = queue.NewNoopProducer()
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 500
	}
	s := &Scheduler{
		stores:   stores,
		tx:       tx,
		producer: producer,
		clock:    clock.Real(),
		metrics:  metrics.NewNoop(),
		jitter:   randomJitter,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

type EnqueueRequest struct {
	UserID        string
	IntegrationID int64
	DataTypes     []model.DataType
	Trigger       model.SyncTrigger
	Priority      int32
	// Delay postpones the job relative to now.
	Delay time.Duration
	// From and To bound the fetch; nil means "since the last sync".
	From *time.Time
	To   *time.Time
}

// Enqueue creates a pending job, or folds the request into the integration's
// existing pending job by pulling it earlier, raising its priority and
// widening its data types and range.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*model.SyncJob, error) {
	now := s.clock.Now()
	scheduledFor := now.Add(req.Delay)

	var job *model.SyncJob
	err := s.tx.WithTx(ctx, func(sp store.StoreProvider) error {
		existing, err := sp.SyncJobs().GetPendingForIntegration(ctx, req.IntegrationID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load pending job: %w", err)
		}

		if existing != nil {
			merged := *existing
			merged.ScheduledFor = scheduledFor
			if existing.NotBefore != nil && existing.NotBefore.After(scheduledFor) {
				// Waiting out a provider rate limit.
				merged.ScheduledFor = *existing.NotBefore
			}
			merged.Priority = req.Priority
			merged.DataTypes = mergeDataTypes(existing.DataTypes, req.DataTypes)
			merged.RangeFrom, merged.RangeTo = mergeRange(existing, req.From, req.To)
			merged.UpdatedAt = now
			job, err = sp.SyncJobs().Reschedule(ctx, &merged)
			if err == nil {
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("reschedule job %d: %w", existing.ID, err)
			}
			// Claimed between the read and the update; fall through to a new job.
		}

		job = &model.SyncJob{
			ID:            id.New(),
			UserID:        req.UserID,
			IntegrationID: req.IntegrationID,
			DataTypes:     req.DataTypes,
			Trigger:       req.Trigger,
			Priority:      req.Priority,
			MaxRetries:    int32(s.cfg.MaxRetries),
			ScheduledFor:  scheduledFor,
			RangeFrom:     req.From,
			RangeTo:       req.To,
			CreatedAt:     now,
		}
		if err := sp.SyncJobs().Create(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "sync job enqueued",
		"job_id", job.ID,
		"integration_id", job.IntegrationID,
		"trigger", req.Trigger,
		"priority", job.Priority,
		"scheduled_for", job.ScheduledFor)

	if !job.ScheduledFor.After(now) {
		s.wake(ctx, job)
	}
	return job, nil
}

func (s *Scheduler) wake(ctx context.Context, job *model.SyncJob) {
	msg := queue.JobMessage{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		Trigger:       string(job.Trigger),
	}
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to publish job wake-up, worker will pick it up on poll", "error", err, "job_id", job.ID)
	}
}

// mergeDataTypes treats an empty list as "all enabled types".
func mergeDataTypes(a, b []model.DataType) []model.DataType {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	return model.UnionDataTypes(a, b)
}

// mergeRange widens an explicit range. If either side is open the merged
// job falls back to the run-time default range.
func mergeRange(existing *model.SyncJob, from, to *time.Time) (*time.Time, *time.Time) {
	if existing.RangeFrom == nil || from == nil || existing.RangeTo == nil || to == nil {
		return nil, nil
	}
	f, t := *existing.RangeFrom, *existing.RangeTo
	if from.Before(f) {
		f = *from
	}
	if to.After(t) {
		t = *to
	}
	return &f, &t
}

// Cancel removes a pending job. Running jobs are not preemptible.
func (s *Scheduler) Cancel(ctx context.Context, jobID int64) error {
	deleted, err := s.stores.SyncJobs().DeletePending(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	if deleted {
		slog.InfoContext(ctx, "sync job cancelled", "job_id", jobID)
		return nil
	}
	if _, err := s.stores.SyncJobs().GetByID(ctx, jobID); errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	return ErrJobNotCancellable
}

// CancelForIntegration removes every pending job of an integration.
func (s *Scheduler) CancelForIntegration(ctx context.Context, integrationID int64) (int64, error) {
	return s.stores.SyncJobs().DeletePendingForIntegration(ctx, integrationID)
}

// Claim atomically marks the next due job running. Returns nil when idle.
func (s *Scheduler) Claim(ctx context.Context) (*model.SyncJob, error) {
	job, err := s.stores.SyncJobs().ClaimNext(ctx, s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Finish persists the outcome of a run. A nil cause completes the job. A job
// that ends failed marks its integration's last sync as errored; earlier
// retryable failures only record last_error.
func (s *Scheduler) Finish(ctx context.Context, job *model.SyncJob, cause error) (*model.SyncJob, error) {
	if job.StartedAt == nil {
		return nil, fmt.Errorf("finish job %d: job was never claimed", job.ID)
	}
	claimedAt := *job.StartedAt

	now := s.clock.Now()
	next := Complete(*job, now)
	outcome := "completed"
	if cause != nil {
		next = Fail(*job, now, cause)
		outcome = "retry"
		if next.Status == model.SyncJobStatusFailed {
			outcome = "failed"
		}
	}

	saved, err := s.stores.SyncJobs().Finish(ctx, &next, claimedAt)
	if errors.Is(err, store.ErrNotFound) {
		// The reaper reclaimed it; the other run owns the job now.
		slog.WarnContext(ctx, "job no longer owned by this run, dropping result", "job_id", job.ID, "outcome", outcome)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("finish job %d: %w", job.ID, err)
	}

	s.metrics.RecordSyncJob(outcome)
	switch saved.Status {
	case model.SyncJobStatusPending:
		slog.InfoContext(ctx, "sync job scheduled for retry",
			"job_id", saved.ID,
			"retry_count", saved.RetryCount,
			"max_retries", saved.MaxRetries,
			"scheduled_for", saved.ScheduledFor)
	case model.SyncJobStatusFailed:
		s.markIntegrationErrored(ctx, saved, now)
	}
	return saved, nil
}

func (s *Scheduler) markIntegrationErrored(ctx context.Context, job *model.SyncJob, now time.Time) {
	_, err := s.stores.Integrations().RecordSync(ctx, job.IntegrationID, nil, model.SyncStatusError, job.LastError, now)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to mark integration sync errored", "error", err, "job_id", job.ID, "integration_id", job.IntegrationID)
		return
	}
	slog.WarnContext(ctx, "sync job failed permanently",
		"job_id", job.ID,
		"integration_id", job.IntegrationID,
		"retry_count", job.RetryCount,
		"last_error", job.LastError)
}

// ScheduleDue enqueues a job, with jitter, for every connected integration
// whose cadence has elapsed and that has no job in flight.
func (s *Scheduler) ScheduleDue(ctx context.Context) (int, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "syncer.scheduler.sweep"})

	due, err := s.stores.Integrations().ListDueForSync(ctx, s.clock.Now(), s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list due integrations: %w", err)
	}

	enqueued := 0
	for i := range due {
		in := &due[i]
		_, err := s.Enqueue(ctx, EnqueueRequest{
			UserID:        in.UserID,
			IntegrationID: in.ID,
			DataTypes:     in.DataTypes,
			Trigger:       model.SyncTriggerScheduled,
			Priority:      model.PriorityNormal,
			Delay:         s.jitter(s.cfg.MaxJitter),
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to enqueue scheduled sync", "error", err, "integration_id", in.ID)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		slog.InfoContext(ctx, "scheduled due integrations", "count", enqueued)
	}
	return enqueued, nil
}

// ReclaimStale returns jobs stuck in running past the liveness timeout to pending.
func (s *Scheduler) ReclaimStale(ctx context.Context) (int, error) {
	now := s.clock.Now()
	jobs, err := s.stores.SyncJobs().ReclaimStale(ctx, now.Add(-s.cfg.JobTimeout), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	for i := range jobs {
		slog.WarnContext(ctx, "reclaimed orphaned sync job",
			"job_id", jobs[i].ID,
			"integration_id", jobs[i].IntegrationID)
		s.wake(ctx, &jobs[i])
	}
	return len(jobs), nil
}

// Cleanup deletes terminal jobs past retention.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.stores.SyncJobs().DeleteTerminalBefore(ctx, s.clock.Now().Add(-s.cfg.JobRetention))
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return n, nil
}

func (s *Scheduler) Get(ctx context.Context, jobID int64) (*model.SyncJob, error) {
	job, err := s.stores.SyncJobs().GetByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *Scheduler) ListForIntegration(ctx context.Context, integrationID int64, limit int32) ([]model.SyncJob, error) {
	return s.stores.SyncJobs().ListByIntegration(ctx, integrationID, limit)
}
