package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/dedup"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/store"
)

// TokenManager hands out usable access tokens for an integration.
type TokenManager interface {
	EnsureAccessToken(ctx context.Context, integration *model.Integration) (string, error)
	RefreshAccessToken(ctx context.Context, integration *model.Integration) (string, error)
}

type SyncConfig struct {
	AdapterTimeout time.Duration
	// BackfillWindow is how far back the first sync of an integration reaches.
	BackfillWindow time.Duration
	// SyncOverlap is re-fetched before the last sync to catch late provider writes.
	SyncOverlap time.Duration
}

// SyncOutcome is the manual sync response.
type SyncOutcome struct {
	Success          bool
	SyncedPointCount int
	Duplicates       int
	Errors           []string
	LastSyncTime     *time.Time
	Status           model.SyncStatus
}

type SyncService interface {
	// ProcessJob runs a claimed job. A nil error completes the job; any other
	// error is handed to the retry state machine.
	ProcessJob(ctx context.Context, job *model.SyncJob) error
	// SyncNow runs a sync inline for the "sync now" action. Provider failures
	// are reported in the outcome; the error is reserved for requests that
	// cannot run at all.
	SyncNow(ctx context.Context, userID string, integrationID int64, from, to *time.Time) (*SyncOutcome, error)
}

type syncService struct {
	stores   store.StoreProvider
	registry *provider.Registry
	tokens   TokenManager
	dedup    *dedup.Engine
	clock    clock.Clock
	metrics  metrics.Recorder
	cfg      SyncConfig
}

func NewSyncService(
	stores store.StoreProvider,
	registry *provider.Registry,
	tokens TokenManager,
	engine *dedup.Engine,
	clk clock.Clock,
	rec metrics.Recorder,
	cfg SyncConfig,
) SyncService {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}
	if cfg.BackfillWindow <= 0 {
		cfg.BackfillWindow = 7 * 24 * time.Hour
	}
	return &syncService{
		stores:   stores,
		registry: registry,
		tokens:   tokens,
		dedup:    engine,
		clock:    clk,
		metrics:  rec,
		cfg:      cfg,
	}
}

func (s *syncService) ProcessJob(ctx context.Context, job *model.SyncJob) error {
	integration, err := s.stores.Integrations().GetByID(ctx, job.IntegrationID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Terminal(ErrIntegrationNotFound)
	}
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	if !integration.IsConnected() {
		return domain.Terminal(fmt.Errorf("%w: status %s", ErrIntegrationNotConnected, integration.Status))
	}

	from, to := s.resolveRange(integration, job.RangeFrom, job.RangeTo)
	run, err := s.run(ctx, integration, job.DataTypes, from, to)
	if err != nil {
		return err
	}
	return run.jobErr
}

func (s *syncService) SyncNow(ctx context.Context, userID string, integrationID int64, from, to *time.Time) (*SyncOutcome, error) {
	integration, err := s.stores.Integrations().GetByID(ctx, integrationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && integration.UserID != userID) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	if !integration.IsConnected() {
		return nil, ErrIntegrationNotConnected
	}

	start, end := s.resolveRange(integration, from, to)
	if start.After(end) {
		return nil, ErrInvalidRange
	}

	run, err := s.run(ctx, integration, nil, start, end)
	if err != nil {
		if domain.IsTerminal(err) {
			return nil, err
		}
		return &SyncOutcome{
			Errors:       []string{err.Error()},
			Status:       model.SyncStatusError,
			LastSyncTime: integration.LastSyncAt,
		}, nil
	}

	outcome := &SyncOutcome{
		Success:          run.status != model.SyncStatusError,
		SyncedPointCount: run.persisted.Persisted,
		Duplicates:       run.persisted.Duplicates,
		Errors:           run.errors,
		Status:           run.status,
		LastSyncTime:     run.integration.LastSyncAt,
	}
	return outcome, nil
}

// resolveRange fills open ends: to defaults to now, from to the last sync
// minus the overlap, or the backfill window for a first sync.
func (s *syncService) resolveRange(integration *model.Integration, from, to *time.Time) (time.Time, time.Time) {
	now := s.clock.Now()
	end := now
	if to != nil {
		end = to.UTC()
	}
	if from != nil {
		return from.UTC(), end
	}
	if integration.LastSyncAt != nil {
		return integration.LastSyncAt.Add(-s.cfg.SyncOverlap), end
	}
	return end.Add(-s.cfg.BackfillWindow), end
}

type runResult struct {
	integration *model.Integration
	persisted   *dedup.Result
	status      model.SyncStatus
	errors      []string
	// jobErr is non-nil when the job should be retried.
	jobErr error
}

// run fetches, deduplicates and persists one range, then records the outcome
// on the integration. The returned error means nothing was fetched.
func (s *syncService) run(ctx context.Context, integration *model.Integration, dataTypes []model.DataType, from, to time.Time) (*runResult, error) {
	span := logger.StartSpan(ctx, "sync.run")
	defer span.End()
	ctx = logger.WithLogFields(span.Context(), logger.LogFields{
		UserID:        logger.Ptr(integration.UserID),
		IntegrationID: logger.Ptr(integration.ID),
		Provider:      logger.Ptr(string(integration.Provider)),
	})

	start := time.Now()
	if len(dataTypes) == 0 {
		dataTypes = integration.DataTypes
	}

	result, err := s.fetch(ctx, integration, dataTypes, from, to)
	if err != nil {
		span.RecordError(err)
		s.recordFailure(ctx, integration, err)
		s.metrics.RecordSyncRun(string(integration.Provider), "error", time.Since(start))
		slog.ErrorContext(ctx, "sync failed before fetching",
			"error", err,
			"from", from,
			"to", to)
		return nil, err
	}

	for i := range result.Points {
		p := &result.Points[i]
		p.UserID = integration.UserID
		p.IntegrationID = integration.ID
		if p.Source == "" {
			p.Source = string(integration.Provider)
		}
	}

	persisted, err := s.dedup.Persist(ctx, result.Points)
	if err != nil {
		err = fmt.Errorf("persist points: %w", err)
		span.RecordError(err)
		s.recordFailure(ctx, integration, err)
		s.metrics.RecordSyncRun(string(integration.Provider), "error", time.Since(start))
		return nil, err
	}
	s.recordPoints(integration.Provider, result.Points, persisted)

	run := &runResult{persisted: persisted}
	succeeded := result.Succeeded()
	switch {
	case len(result.Failures) == 0:
		run.status = model.SyncStatusSuccess
	case len(succeeded) > 0:
		run.status = model.SyncStatusPartial
	default:
		run.status = model.SyncStatusError
	}
	if partial := result.PartialError(); partial != nil {
		var pe *domain.PartialSyncError
		if errors.As(partial, &pe) {
			run.errors = pe.Messages()
		}
	}

	switch {
	case result.RateLimited != nil:
		run.jobErr = result.RateLimited
	case run.status == model.SyncStatusError:
		run.jobErr = firstFailure(result)
	}

	now := s.clock.Now()
	var lastSyncAt *time.Time
	// The cursor only moves when every requested type was fetched up to the
	// present. A throttled or over-budget run leaves types unfetched, so the
	// next run must start from the old cursor.
	complete := result.RateLimited == nil && !result.Truncated
	if run.status != model.SyncStatusError && complete && !to.Before(now.Add(-s.cfg.SyncOverlap)) {
		lastSyncAt = &now
	}

	var updated *model.Integration
	if run.status == model.SyncStatusError {
		// last_sync_status=error is set by the scheduler once retries run out.
		msg := firstFailure(result).Error()
		if len(run.errors) > 0 {
			msg = strings.Join(run.errors, "; ")
		}
		updated, err = s.stores.Integrations().RecordSyncError(ctx, integration.ID, logger.Truncate(msg, 1000), now)
	} else {
		var lastError *string
		if len(run.errors) > 0 {
			msg := logger.Truncate(strings.Join(run.errors, "; "), 1000)
			lastError = &msg
		}
		updated, err = s.stores.Integrations().RecordSync(ctx, integration.ID, lastSyncAt, run.status, lastError, now)
	}
	if err != nil {
		return nil, fmt.Errorf("record sync: %w", err)
	}
	run.integration = updated

	s.metrics.RecordSyncRun(string(integration.Provider), string(run.status), time.Since(start))
	attrs := []any{
		"status", run.status,
		"from", from,
		"to", to,
		"fetched", persisted.Fetched,
		"persisted", persisted.Persisted,
		"duplicates", persisted.Duplicates,
		"truncated", result.Truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if len(run.errors) > 0 {
		slog.WarnContext(ctx, "sync finished with failures", append(attrs, "errors", run.errors)...)
	} else {
		slog.InfoContext(ctx, "sync finished", attrs...)
	}
	return run, nil
}

// fetch obtains a token and calls the adapter, refreshing once if the
// provider rejects a token that looked valid.
func (s *syncService) fetch(ctx context.Context, integration *model.Integration, dataTypes []model.DataType, from, to time.Time) (*provider.SyncResult, error) {
	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.EnsureAccessToken(ctx, integration)
	if err != nil {
		return nil, err
	}

	result, err := s.syncData(ctx, adapter, token, dataTypes, from, to)
	if err != nil {
		return nil, err
	}
	if !result.Unauthorized() {
		return result, nil
	}

	slog.InfoContext(ctx, "provider rejected access token mid-sync, refreshing")
	token, err = s.tokens.RefreshAccessToken(ctx, integration)
	if err != nil {
		return nil, err
	}
	return s.syncData(ctx, adapter, token, dataTypes, from, to)
}

func (s *syncService) syncData(ctx context.Context, adapter provider.Adapter, token string, dataTypes []model.DataType, from, to time.Time) (*provider.SyncResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	defer cancel()
	return adapter.SyncData(ctx, token, dataTypes, from, to)
}

// recordFailure keeps the last error visible while the job is retried. The
// caller's deadline may already have passed, so the write is detached from it.
func (s *syncService) recordFailure(ctx context.Context, integration *model.Integration, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	msg := logger.Truncate(cause.Error(), 1000)
	if _, err := s.stores.Integrations().RecordSyncError(ctx, integration.ID, msg, s.clock.Now()); err != nil {
		slog.ErrorContext(ctx, "failed to record sync failure", "error", err)
	}
}

func (s *syncService) recordPoints(p model.Provider, fetched []model.HealthDataPoint, persisted *dedup.Result) {
	counts := make(map[model.DataType]int)
	for i := range fetched {
		counts[fetched[i].DataType]++
	}
	for dataType, n := range counts {
		stored := persisted.ByType[dataType]
		s.metrics.RecordDataPoints(string(p), string(dataType), stored, n-stored)
	}
}

func firstFailure(result *provider.SyncResult) error {
	for _, t := range result.Attempted {
		if err, ok := result.Failures[t]; ok {
			return err
		}
	}
	return errors.New("sync failed")
}
