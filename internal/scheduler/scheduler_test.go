package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/store"
	"healthbridge.app/syncer/internal/store/memory"
)

type recordingProducer struct {
	mu   sync.Mutex
	msgs []queue.JobMessage
	err  error
}

func (p *recordingProducer) Enqueue(_ context.Context, msg queue.JobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) Messages() []queue.JobMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.JobMessage(nil), p.msgs...)
}

var _ = Describe("Scheduler", func() {
	var (
		ctx      context.Context
		mem      *memory.Store
		clk      *clock.Fake
		producer *recordingProducer
		sched    *scheduler.Scheduler
		start    time.Time
	)

	connect := func(userID string, lastSync *time.Time) *model.Integration {
		in := &model.Integration{
			UserID:              userID,
			Provider:            model.ProviderFitbit,
			AccessToken:         "sealed",
			DataTypes:           []model.DataType{model.DataTypeSteps},
			SyncIntervalMinutes: 60,
			CreatedAt:           start,
		}
		Expect(mem.Integrations().UpsertConnected(ctx, in)).To(Succeed())
		if lastSync != nil {
			_, err := mem.Integrations().RecordSync(ctx, in.ID, lastSync, model.SyncStatusSuccess, nil, start)
			Expect(err).NotTo(HaveOccurred())
		}
		return in
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clk = clock.NewFake(start)
		producer = &recordingProducer{}
		sched = scheduler.New(mem, mem, producer, scheduler.Config{
			MaxRetries:   3,
			MaxJitter:    5 * time.Minute,
			JobTimeout:   15 * time.Minute,
			JobRetention: 7 * 24 * time.Hour,
		}, scheduler.WithClock(clk), scheduler.WithJitter(func(max time.Duration) time.Duration { return max / 5 }))
	})

	Describe("Enqueue", func() {
		It("creates a pending job and publishes a wake-up when due now", func() {
			job, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{
				UserID:        "u1",
				IntegrationID: 42,
				Trigger:       model.SyncTriggerManual,
				Priority:      model.PriorityImmediate,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(model.SyncJobStatusPending))
			Expect(job.MaxRetries).To(Equal(int32(3)))
			Expect(producer.Messages()).To(HaveLen(1))
			Expect(producer.Messages()[0].JobID).To(Equal(job.ID))
		})

		It("does not publish for delayed jobs", func() {
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 42, Trigger: model.SyncTriggerScheduled, Delay: time.Minute})
			Expect(err).NotTo(HaveOccurred())
			Expect(producer.Messages()).To(BeEmpty())
		})

		It("bumps an existing pending job instead of duplicating it", func() {
			first, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{
				IntegrationID: 42,
				DataTypes:     []model.DataType{model.DataTypeSteps},
				Trigger:       model.SyncTriggerScheduled,
				Delay:         30 * time.Minute,
			})
			Expect(err).NotTo(HaveOccurred())

			second, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{
				IntegrationID: 42,
				DataTypes:     []model.DataType{model.DataTypeSleep},
				Trigger:       model.SyncTriggerWebhook,
				Priority:      model.PriorityImmediate,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.ScheduledFor).To(Equal(start))
			Expect(second.Priority).To(Equal(model.PriorityImmediate))
			Expect(second.DataTypes).To(ConsistOf(model.DataTypeSteps, model.DataTypeSleep))
			Expect(mem.AllJobs()).To(HaveLen(1))
		})

		It("widens explicit ranges when bumping", func() {
			d := func(day int) *time.Time { t := time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC); return &t }
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual, From: d(10), To: d(12), Delay: time.Hour})
			Expect(err).NotTo(HaveOccurred())
			job, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual, From: d(5), To: d(11), Delay: time.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(*job.RangeFrom).To(Equal(*d(5)))
			Expect(*job.RangeTo).To(Equal(*d(12)))

			job, err = sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerScheduled, Delay: time.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(job.RangeFrom).To(BeNil())
			Expect(job.RangeTo).To(BeNil())
		})

		It("keeps a job waiting out a rate limit when a webhook bumps it", func() {
			in := connect("u1", nil)
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: in.ID, Trigger: model.SyncTriggerScheduled})
			Expect(err).NotTo(HaveOccurred())
			job, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			throttled, err := sched.Finish(ctx, job, &domain.ProviderRateLimitError{Provider: model.ProviderFitbit, RetryAfter: 20 * time.Minute})
			Expect(err).NotTo(HaveOccurred())
			Expect(throttled.ScheduledFor).To(Equal(start.Add(20 * time.Minute)))
			wakeups := len(producer.Messages())

			bumped, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{
				IntegrationID: in.ID,
				DataTypes:     []model.DataType{model.DataTypeSleep},
				Trigger:       model.SyncTriggerWebhook,
				Priority:      model.PriorityImmediate,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(bumped.ID).To(Equal(job.ID))
			Expect(bumped.ScheduledFor).To(Equal(start.Add(20 * time.Minute)))
			Expect(bumped.Priority).To(Equal(model.PriorityImmediate))
			Expect(producer.Messages()).To(HaveLen(wakeups))

			claimed, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeNil())
		})

		It("still pulls a job forward after an ordinary failure", func() {
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerScheduled})
			Expect(err).NotTo(HaveOccurred())
			job, _ := sched.Claim(ctx)
			_, err = sched.Finish(ctx, job, errors.New("provider timeout"))
			Expect(err).NotTo(HaveOccurred())

			bumped, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerWebhook, Priority: model.PriorityImmediate})
			Expect(err).NotTo(HaveOccurred())
			Expect(bumped.ScheduledFor).To(Equal(start))
		})

		It("succeeds when the wake-up cannot be published", func() {
			producer.err = errors.New("redis down")
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 42, Trigger: model.SyncTriggerManual})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Cancel", func() {
		It("removes a pending job", func() {
			job, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 42, Trigger: model.SyncTriggerManual})
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Cancel(ctx, job.ID)).To(Succeed())
			Expect(mem.AllJobs()).To(BeEmpty())
		})

		It("refuses to cancel a running job", func() {
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 42, Trigger: model.SyncTriggerManual})
			Expect(err).NotTo(HaveOccurred())
			claimed, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Cancel(ctx, claimed.ID)).To(MatchError(scheduler.ErrJobNotCancellable))
		})

		It("reports unknown jobs", func() {
			Expect(sched.Cancel(ctx, 999)).To(MatchError(scheduler.ErrJobNotFound))
		})
	})

	Describe("Claim and Finish", func() {
		It("returns nil when nothing is due", func() {
			job, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
		})

		It("claims higher priority first", func() {
			low, _ := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerScheduled})
			high, _ := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 2, Trigger: model.SyncTriggerManual, Priority: model.PriorityImmediate})

			first, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ID).To(Equal(high.ID))
			second, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(low.ID))
		})

		It("retries with backoff then fails after max retries", func() {
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual})
			Expect(err).NotTo(HaveOccurred())

			var last *model.SyncJob
			for attempt := 0; attempt < 4; attempt++ {
				job, err := sched.Claim(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(job).NotTo(BeNil(), "attempt %d", attempt)
				last, err = sched.Finish(ctx, job, errors.New("provider timeout"))
				Expect(err).NotTo(HaveOccurred())
				clk.Advance(time.Hour)
			}
			Expect(last.Status).To(Equal(model.SyncJobStatusFailed))
			Expect(last.RetryCount).To(Equal(int32(3)))

			job, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
		})

		It("marks the integration errored only once retries are exhausted", func() {
			in := connect("u1", nil)
			_, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: in.ID, Trigger: model.SyncTriggerScheduled})
			Expect(err).NotTo(HaveOccurred())

			for attempt := 0; attempt < 4; attempt++ {
				job, err := sched.Claim(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(job).NotTo(BeNil(), "attempt %d", attempt)
				_, err = sched.Finish(ctx, job, &domain.ProviderRateLimitError{Provider: model.ProviderFitbit, RetryAfter: 30 * time.Minute})
				Expect(err).NotTo(HaveOccurred())

				current, err := mem.Integrations().GetByID(ctx, in.ID)
				Expect(err).NotTo(HaveOccurred())
				if attempt < 3 {
					Expect(current.LastSyncStatus).To(BeNil(), "attempt %d", attempt)
				} else {
					Expect(current.LastSyncStatus).To(HaveValue(Equal(model.SyncStatusError)))
					Expect(current.LastError).To(HaveValue(ContainSubstring("rate limit")))
				}
				clk.Advance(2 * time.Hour)
			}
		})

		It("drops a late finish from a run that was reclaimed and claimed again", func() {
			_, _ = sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual})
			stale, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(20 * time.Minute)
			n, err := sched.ReclaimStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			live, err := sched.Claim(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(live.ID).To(Equal(stale.ID))

			_, err = sched.Finish(ctx, stale, errors.New("late failure"))
			Expect(err).To(MatchError(store.ErrNotFound))

			done, err := sched.Finish(ctx, live, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.Status).To(Equal(model.SyncJobStatusCompleted))
			Expect(done.RetryCount).To(BeZero())
		})

		It("fails immediately on reauthorization", func() {
			_, _ = sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual})
			job, _ := sched.Claim(ctx)
			saved, err := sched.Finish(ctx, job, &domain.ReauthorizationRequiredError{IntegrationID: 1, Provider: model.ProviderFitbit, Reason: "revoked"})
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal(model.SyncJobStatusFailed))
			Expect(saved.RetryCount).To(BeZero())
		})
	})

	Describe("ScheduleDue", func() {
		It("enqueues due integrations with jitter and skips fresh ones", func() {
			stale := start.Add(-2 * time.Hour)
			fresh := start.Add(-10 * time.Minute)
			due := connect("u1", &stale)
			never := connect("u2", nil)
			connect("u3", &fresh)

			n, err := sched.ScheduleDue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			jobs := mem.AllJobs()
			Expect(jobs).To(HaveLen(2))
			ids := []int64{jobs[0].IntegrationID, jobs[1].IntegrationID}
			Expect(ids).To(ConsistOf(due.ID, never.ID))
			for _, j := range jobs {
				Expect(j.Trigger).To(Equal(model.SyncTriggerScheduled))
				Expect(j.ScheduledFor).To(Equal(start.Add(time.Minute)))
			}
		})

		It("does not enqueue twice while a job is in flight", func() {
			connect("u1", nil)
			_, err := sched.ScheduleDue(ctx)
			Expect(err).NotTo(HaveOccurred())
			n, err := sched.ScheduleDue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(mem.AllJobs()).To(HaveLen(1))
		})
	})

	Describe("ReclaimStale", func() {
		It("returns orphaned running jobs to pending", func() {
			_, _ = sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual})
			job, _ := sched.Claim(ctx)

			clk.Advance(10 * time.Minute)
			n, err := sched.ReclaimStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			clk.Advance(10 * time.Minute)
			n, err = sched.ReclaimStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			reclaimed, err := sched.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reclaimed.Status).To(Equal(model.SyncJobStatusPending))
			Expect(reclaimed.RetryCount).To(BeZero())

			_, err = sched.Finish(ctx, job, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Cleanup", func() {
		It("deletes terminal jobs past retention", func() {
			_, _ = sched.Enqueue(ctx, scheduler.EnqueueRequest{IntegrationID: 1, Trigger: model.SyncTriggerManual})
			job, _ := sched.Claim(ctx)
			_, err := sched.Finish(ctx, job, nil)
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(6 * 24 * time.Hour)
			n, err := sched.Cleanup(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			clk.Advance(2 * 24 * time.Hour)
			n, err = sched.Cleanup(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
		})
	})
})
