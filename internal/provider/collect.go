package provider

import (
	"context"
	"errors"
	"log/slog"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
)

// FetchFunc fetches canonical points for one data type.
type FetchFunc func(ctx context.Context, dataType model.DataType) ([]model.HealthDataPoint, error)

// Collect runs fetch for each data type in order, isolating failures per type.
// It stops early on rate limiting, budget exhaustion or a rejected token and
// records the skipped types as failures.
func Collect(ctx context.Context, types []model.DataType, fetch FetchFunc) *SyncResult {
	result := NewSyncResult()

	for i, dataType := range types {
		typeCtx := logger.WithLogFields(ctx, logger.LogFields{DataType: logger.Ptr(string(dataType))})
		result.Attempted = append(result.Attempted, dataType)

		points, err := fetch(typeCtx, dataType)
		if err == nil {
			result.Points = append(result.Points, points...)
			continue
		}

		result.Fail(dataType, err)
		slog.WarnContext(typeCtx, "provider fetch failed", "error", err)

		var rl *domain.ProviderRateLimitError
		stop := false
		switch {
		case errors.As(err, &rl):
			result.RateLimited = rl
			stop = true
		case errors.Is(err, ErrBudgetExhausted):
			result.Truncated = true
			stop = true
		case errors.Is(err, ErrUnauthorized), ctx.Err() != nil:
			stop = true
		}
		if stop {
			for _, skipped := range types[i+1:] {
				result.Attempted = append(result.Attempted, skipped)
				result.Fail(skipped, err)
			}
			return result
		}
	}

	return result
}

// Unauthorized reports whether every attempted type failed because the
// provider rejected the access token.
func (r *SyncResult) Unauthorized() bool {
	if len(r.Attempted) == 0 || len(r.Failures) != len(r.Attempted) {
		return false
	}
	for _, err := range r.Failures {
		if !errors.Is(err, ErrUnauthorized) {
			return false
		}
	}
	return true
}
