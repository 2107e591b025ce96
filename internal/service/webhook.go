package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/dedup"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/store"
)

type WebhookOutcome struct {
	Events    int
	Matched   int
	Persisted int
	Enqueued  int
	Revoked   int
}

type WebhookService interface {
	// Handle verifies a delivery before anything in it is trusted. Unverified
	// deliveries return provider.ErrInvalidSignature and are dropped.
	Handle(ctx context.Context, p model.Provider, req *provider.WebhookRequest) (*WebhookOutcome, error)
	// VerifySubscriber answers a provider's subscription endpoint handshake.
	VerifySubscriber(ctx context.Context, p model.Provider, query url.Values) (bool, error)
}

type webhookService struct {
	stores    store.StoreProvider
	registry  *provider.Registry
	dedup     *dedup.Engine
	scheduler JobScheduler
	security  queue.SecurityPublisher
	clock     clock.Clock
	metrics   metrics.Recorder
}

func NewWebhookService(
	stores store.StoreProvider,
	registry *provider.Registry,
	engine *dedup.Engine,
	sched JobScheduler,
	security queue.SecurityPublisher,
	clk clock.Clock,
	rec metrics.Recorder,
) WebhookService {
	return &webhookService{
		stores:    stores,
		registry:  registry,
		dedup:     engine,
		scheduler: sched,
		security:  security,
		clock:     clk,
		metrics:   rec,
	}
}

func (s *webhookService) Handle(ctx context.Context, p model.Provider, req *provider.WebhookRequest) (*WebhookOutcome, error) {
	span := logger.StartSpan(ctx, "webhook.handle")
	defer span.End()
	ctx = logger.WithLogFields(span.Context(), logger.LogFields{
		Provider:  logger.Ptr(string(p)),
		Component: "syncer.webhook",
	})

	adapter, ok := s.registry.Webhook(p)
	if !ok {
		return nil, ErrWebhooksUnsupported
	}

	if err := adapter.VerifyWebhook(req); err != nil {
		s.metrics.RecordWebhook(string(p), "invalid_signature")
		slog.WarnContext(ctx, "dropping unverified webhook", "error", err, "body_bytes", len(req.Body))
		if pubErr := s.security.Publish(ctx, queue.SecurityEvent{
			Type:       queue.SecurityEventInvalidWebhookSig,
			Provider:   string(p),
			Reason:     err.Error(),
			OccurredAt: s.clock.Now(),
		}); pubErr != nil {
			slog.WarnContext(ctx, "failed to publish security event", "error", pubErr)
		}
		return nil, provider.ErrInvalidSignature
	}

	events, err := adapter.HandleWebhook(ctx, req)
	if errors.Is(err, provider.ErrMalformedWebhook) {
		s.metrics.RecordWebhook(string(p), metrics.ResultMalformed)
		slog.WarnContext(ctx, "dropping malformed webhook", "error", err, "body_bytes", len(req.Body))
		return nil, err
	}
	if err != nil {
		s.metrics.RecordWebhook(string(p), metrics.ResultError)
		span.RecordError(err)
		return nil, fmt.Errorf("handle %s webhook: %w", p, err)
	}

	outcome := &WebhookOutcome{Events: len(events)}
	var errs []error
	for i := range events {
		if err := s.dispatch(ctx, p, &events[i], outcome); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.metrics.RecordWebhook(string(p), metrics.ResultError)
		span.RecordError(err)
		return outcome, err
	}
	s.metrics.RecordWebhook(string(p), metrics.ResultSuccess)
	slog.InfoContext(ctx, "webhook processed",
		"events", outcome.Events,
		"matched", outcome.Matched,
		"persisted", outcome.Persisted,
		"enqueued", outcome.Enqueued,
		"revoked", outcome.Revoked)
	return outcome, nil
}

func (s *webhookService) dispatch(ctx context.Context, p model.Provider, event *provider.WebhookEvent, outcome *WebhookOutcome) error {
	integrations, err := s.stores.Integrations().ListByExternalUser(ctx, p, event.ExternalUserID)
	if err != nil {
		return fmt.Errorf("resolve %s user %s: %w", p, event.ExternalUserID, err)
	}
	if len(integrations) == 0 {
		slog.WarnContext(ctx, "webhook for unknown provider user", "external_user_id", event.ExternalUserID)
		return nil
	}

	for i := range integrations {
		in := &integrations[i]
		inCtx := logger.WithLogFields(ctx, logger.LogFields{
			UserID:        logger.Ptr(in.UserID),
			IntegrationID: logger.Ptr(in.ID),
		})
		outcome.Matched++

		if event.Revoked {
			if err := disconnect(inCtx, s.stores, s.scheduler, s.clock, in, "access revoked at provider"); err != nil {
				return err
			}
			outcome.Revoked++
			s.publish(inCtx, queue.SecurityEvent{
				Type:          queue.SecurityEventProviderAccessRevoked,
				Provider:      string(p),
				UserID:        in.UserID,
				IntegrationID: &in.ID,
				Reason:        "provider reported user revoked access",
			})
			continue
		}

		if !in.IsConnected() {
			slog.DebugContext(inCtx, "ignoring webhook for integration that is not connected", "status", in.Status)
			continue
		}

		if len(event.Points) > 0 {
			points := make([]model.HealthDataPoint, len(event.Points))
			for j, pt := range event.Points {
				pt.UserID = in.UserID
				pt.IntegrationID = in.ID
				if pt.Source == "" {
					pt.Source = string(p)
				}
				points[j] = pt
			}
			res, err := s.dedup.Persist(inCtx, points)
			if err != nil {
				return fmt.Errorf("persist inline points for integration %d: %w", in.ID, err)
			}
			outcome.Persisted += res.Persisted
		}

		dataTypes := event.DataTypes
		if len(in.DataTypes) > 0 {
			dataTypes = model.IntersectDataTypes(event.DataTypes, in.DataTypes)
			if len(event.DataTypes) > 0 && len(dataTypes) == 0 {
				slog.DebugContext(inCtx, "webhook data types not enabled for integration",
					"data_types", model.DataTypeStrings(event.DataTypes))
				continue
			}
		}

		if _, err := s.scheduler.Enqueue(inCtx, scheduler.EnqueueRequest{
			UserID:        in.UserID,
			IntegrationID: in.ID,
			DataTypes:     dataTypes,
			Trigger:       model.SyncTriggerWebhook,
			Priority:      model.PriorityImmediate,
			From:          event.From,
			To:            event.To,
		}); err != nil {
			return fmt.Errorf("enqueue webhook sync for integration %d: %w", in.ID, err)
		}
		outcome.Enqueued++
	}
	return nil
}

func (s *webhookService) VerifySubscriber(ctx context.Context, p model.Provider, query url.Values) (bool, error) {
	adapter, err := s.registry.Get(p)
	if err != nil {
		return false, ErrWebhooksUnsupported
	}
	verifier, ok := adapter.(provider.SubscriberVerifier)
	if !ok {
		return false, ErrWebhooksUnsupported
	}
	valid := verifier.VerifySubscriber(query)
	if !valid {
		slog.WarnContext(ctx, "subscriber verification rejected", "provider", p)
	}
	return valid, nil
}

func (s *webhookService) publish(ctx context.Context, event queue.SecurityEvent) {
	event.OccurredAt = s.clock.Now()
	if err := s.security.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish security event", "error", err, "type", event.Type)
	}
}
