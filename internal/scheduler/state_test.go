package scheduler_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/scheduler"
)

var _ = Describe("job state transitions", func() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	running := func(retry, max int32) model.SyncJob {
		started := now.Add(-time.Minute)
		return model.SyncJob{
			ID:         1,
			Status:     model.SyncJobStatusRunning,
			RetryCount: retry,
			MaxRetries: max,
			StartedAt:  &started,
		}
	}

	It("doubles the backoff per retry", func() {
		Expect(scheduler.Backoff(0)).To(Equal(time.Minute))
		Expect(scheduler.Backoff(1)).To(Equal(2 * time.Minute))
		Expect(scheduler.Backoff(2)).To(Equal(4 * time.Minute))
		Expect(scheduler.Backoff(100)).To(Equal(scheduler.Backoff(16)))
	})

	It("starts and completes", func() {
		job := scheduler.Start(model.SyncJob{Status: model.SyncJobStatusPending}, now)
		Expect(job.Status).To(Equal(model.SyncJobStatusRunning))
		Expect(*job.StartedAt).To(Equal(now))

		msg := "old"
		job.LastError = &msg
		job = scheduler.Complete(job, now.Add(time.Minute))
		Expect(job.Status).To(Equal(model.SyncJobStatusCompleted))
		Expect(job.LastError).To(BeNil())
		Expect(*job.CompletedAt).To(Equal(now.Add(time.Minute)))
	})

	It("reschedules a retryable failure with exponential delay", func() {
		job := scheduler.Fail(running(1, 3), now, errors.New("timeout"))
		Expect(job.Status).To(Equal(model.SyncJobStatusPending))
		Expect(job.RetryCount).To(Equal(int32(2)))
		Expect(job.ScheduledFor).To(Equal(now.Add(2 * time.Minute)))
		Expect(job.StartedAt).To(BeNil())
		Expect(*job.LastError).To(Equal("timeout"))
	})

	It("honors a longer provider retry-after", func() {
		cause := &domain.ProviderRateLimitError{Provider: model.ProviderFitbit, RetryAfter: 15 * time.Minute}
		job := scheduler.Fail(running(0, 3), now, cause)
		Expect(job.ScheduledFor).To(Equal(now.Add(15 * time.Minute)))
		Expect(*job.NotBefore).To(Equal(now.Add(15 * time.Minute)))

		job = scheduler.Complete(scheduler.Start(job, now.Add(15*time.Minute)), now.Add(16*time.Minute))
		Expect(job.NotBefore).To(BeNil())
	})

	It("leaves no wait floor after an ordinary failure", func() {
		job := scheduler.Fail(running(0, 3), now, errors.New("timeout"))
		Expect(job.NotBefore).To(BeNil())
	})

	It("fails terminal causes immediately", func() {
		cause := &domain.ReauthorizationRequiredError{IntegrationID: 7, Provider: model.ProviderOura, Reason: "invalid_grant"}
		job := scheduler.Fail(running(0, 3), now, cause)
		Expect(job.Status).To(Equal(model.SyncJobStatusFailed))
		Expect(job.RetryCount).To(BeZero())
		Expect(*job.CompletedAt).To(Equal(now))
	})

	It("never retries more than max retries times", func() {
		job := running(0, 3)
		for i := 0; i < 10; i++ {
			job = scheduler.Fail(job, now, errors.New("boom"))
			if job.Status == model.SyncJobStatusFailed {
				break
			}
			Expect(job.RetryCount).To(BeNumerically("<=", job.MaxRetries))
			job = scheduler.Start(job, now)
		}
		Expect(job.Status).To(Equal(model.SyncJobStatusFailed))
		Expect(job.RetryCount).To(Equal(int32(3)))
	})
})
