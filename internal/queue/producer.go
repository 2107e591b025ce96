package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg JobMessage) error {
	fields := map[string]any{
		"task_type":      string(TaskTypeSyncJob),
		"job_id":         msg.JobID,
		"integration_id": msg.IntegrationID,
		"trigger":        msg.Trigger,
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue sync job: %w", err)
	}

	p.logger.DebugContext(ctx, "enqueued sync job wake-up", "job_id", msg.JobID, "integration_id", msg.IntegrationID, "trigger", msg.Trigger)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type noopProducer struct{}

// NewNoopProducer is used without Redis; workers then rely on polling alone.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) Enqueue(context.Context, JobMessage) error { return nil }

func (noopProducer) Close() error { return nil }
