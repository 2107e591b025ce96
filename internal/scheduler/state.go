package scheduler

import (
	"time"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
)

// maxBackoffExponent caps 2^n minutes at roughly 45 days.
const maxBackoffExponent = 16

// Backoff is the retry delay after the retryCount-th failure: 2^retryCount minutes.
func Backoff(retryCount int32) time.Duration {
	n := retryCount
	if n < 0 {
		n = 0
	}
	if n > maxBackoffExponent {
		n = maxBackoffExponent
	}
	return time.Duration(1<<uint(n)) * time.Minute
}

// Start moves a pending job to running.
func Start(job model.SyncJob, now time.Time) model.SyncJob {
	job.Status = model.SyncJobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return job
}

// Complete moves a running job to completed.
func Complete(job model.SyncJob, now time.Time) model.SyncJob {
	job.Status = model.SyncJobStatusCompleted
	job.CompletedAt = &now
	job.NotBefore = nil
	job.LastError = nil
	job.UpdatedAt = now
	return job
}

// Fail returns the job state after a failed run. Retryable failures go back
// to pending with an exponential delay, honoring a provider retry-after when
// it is longer. Terminal causes and exhausted retries end in failed.
// StartedAt is cleared on retry; callers pass the claimed value to the store
// separately.
func Fail(job model.SyncJob, now time.Time, cause error) model.SyncJob {
	msg := cause.Error()
	job.LastError = &msg
	job.UpdatedAt = now

	if domain.IsTerminal(cause) || job.RetryCount >= job.MaxRetries {
		job.Status = model.SyncJobStatusFailed
		job.CompletedAt = &now
		return job
	}

	delay := Backoff(job.RetryCount)
	if ra := domain.RetryAfter(cause); ra > delay {
		delay = ra
	}

	job.Status = model.SyncJobStatusPending
	job.RetryCount++
	job.ScheduledFor = now.Add(delay)
	job.StartedAt = nil
	job.NotBefore = nil
	if domain.IsRateLimited(cause) {
		// The provider is throttling this integration; later requests may
		// widen the job but must not pull it earlier.
		notBefore := job.ScheduledFor
		job.NotBefore = &notBefore
	}
	return job
}
