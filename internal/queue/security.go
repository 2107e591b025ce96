package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SecurityPublisher emits security events. Publishing is best effort and
// must never block the flow that detected the event.
type SecurityPublisher interface {
	Publish(ctx context.Context, event SecurityEvent) error
}

type redisSecurityPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSecurityPublisher(client *redis.Client, stream string, maxLen int64) SecurityPublisher {
	return &redisSecurityPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *redisSecurityPublisher) Publish(ctx context.Context, event SecurityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	fields := map[string]any{
		"type":        string(event.Type),
		"provider":    event.Provider,
		"user_id":     event.UserID,
		"reason":      event.Reason,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
	if event.IntegrationID != nil {
		fields["integration_id"] = strconv.FormatInt(*event.IntegrationID, 10)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish security event: %w", err)
	}
	return nil
}

type logSecurityPublisher struct{}

// NewLogSecurityPublisher writes events to the structured log only.
func NewLogSecurityPublisher() SecurityPublisher {
	return logSecurityPublisher{}
}

func (logSecurityPublisher) Publish(ctx context.Context, event SecurityEvent) error {
	attrs := []any{
		"security_event", string(event.Type),
		"provider", event.Provider,
		"reason", event.Reason,
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.IntegrationID != nil {
		attrs = append(attrs, "integration_id", *event.IntegrationID)
	}
	slog.WarnContext(ctx, "security event", attrs...)
	return nil
}
