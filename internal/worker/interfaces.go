package worker

import (
	"context"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
)

// Consumer delivers job wake-ups. Messages carry no work of their own; the
// job table is the source of truth.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
}

// StaleAcker clears wake-ups orphaned by dead consumers.
type StaleAcker interface {
	AckStale(ctx context.Context, minIdle time.Duration, count int64) (int, error)
}

// JobQueue hands out due jobs and records their outcome.
type JobQueue interface {
	Claim(ctx context.Context) (*model.SyncJob, error)
	Finish(ctx context.Context, job *model.SyncJob, cause error) (*model.SyncJob, error)
}

// JobProcessor runs one claimed sync job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *model.SyncJob) error
}

type Maintainer interface {
	ReclaimStale(ctx context.Context) (int, error)
	ScheduleDue(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (int64, error)
}

type StateCleaner interface {
	CleanupExpiredStates(ctx context.Context) (int64, error)
}
