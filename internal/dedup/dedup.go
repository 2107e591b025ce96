// Package dedup filters freshly fetched data points against what is already
// stored so overlapping syncs never write the same measurement twice.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/id"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/store"
)

// DefaultWindow pads the stored-point lookup on both ends of a batch.
const DefaultWindow = 5 * time.Minute

type Engine struct {
	points store.DataPointStore
	clock  clock.Clock
	window time.Duration
}

type Option func(*Engine)

func WithWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func New(points store.DataPointStore, opts ...Option) *Engine {
	e := &Engine{points: points, clock: clock.Real(), window: DefaultWindow}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type scope struct {
	userID        string
	integrationID int64
}

// Deduplicate drops points whose (data type, value, timestamp) already exists
// for the same user and integration, and collapses repeats within the batch.
// Timestamps are normalized to UTC milliseconds in the returned points.
func (e *Engine) Deduplicate(ctx context.Context, batch []model.HealthDataPoint) ([]model.HealthDataPoint, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	groups := make(map[scope][]int)
	var order []scope
	normalized := make([]model.HealthDataPoint, len(batch))
	for i, p := range batch {
		p.RecordedAt = model.NormalizeTimestamp(p.RecordedAt)
		normalized[i] = p
		s := scope{userID: p.UserID, integrationID: p.IntegrationID}
		if _, ok := groups[s]; !ok {
			order = append(order, s)
		}
		groups[s] = append(groups[s], i)
	}

	out := make([]model.HealthDataPoint, 0, len(batch))
	for _, s := range order {
		idx := groups[s]
		seen, err := e.existingKeys(ctx, s, normalized, idx)
		if err != nil {
			return nil, err
		}
		for _, i := range idx {
			key := normalized[i].DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, normalized[i])
		}
	}
	return out, nil
}

// existingKeys loads stored keys over the batch span padded by the window.
func (e *Engine) existingKeys(ctx context.Context, s scope, points []model.HealthDataPoint, idx []int) (map[model.DedupKey]struct{}, error) {
	earliest := points[idx[0]].RecordedAt
	latest := earliest
	for _, i := range idx[1:] {
		t := points[i].RecordedAt
		if t.Before(earliest) {
			earliest = t
		}
		if t.After(latest) {
			latest = t
		}
	}

	existing, err := e.points.ListForIntegration(ctx, s.userID, s.integrationID, earliest.Add(-e.window), latest.Add(e.window))
	if err != nil {
		return nil, fmt.Errorf("load existing points for integration %d: %w", s.integrationID, err)
	}

	keys := make(map[model.DedupKey]struct{}, len(existing))
	for i := range existing {
		keys[existing[i].DedupKey()] = struct{}{}
	}
	return keys, nil
}

// Result summarizes one Persist call.
type Result struct {
	Fetched    int
	Persisted  int
	Duplicates int
	// ByType counts persisted points per data type.
	ByType   map[model.DataType]int
	Inserted []model.HealthDataPoint
}

// Persist deduplicates and inserts. Inserts that lose a race with a concurrent
// writer hit the unique index and are counted as duplicates.
func (e *Engine) Persist(ctx context.Context, batch []model.HealthDataPoint) (*Result, error) {
	result := &Result{Fetched: len(batch), ByType: make(map[model.DataType]int)}

	valid := make([]model.HealthDataPoint, 0, len(batch))
	for _, p := range batch {
		if !p.DataType.Valid() {
			slog.WarnContext(ctx, "dropping point with unknown data type", "data_type", p.DataType)
			continue
		}
		if p.Unit == "" {
			p.Unit = p.DataType.CanonicalUnit()
		}
		valid = append(valid, p)
	}

	fresh, err := e.Deduplicate(ctx, valid)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	for i := range fresh {
		p := fresh[i]
		p.ID = id.New()
		p.CreatedAt = now
		inserted, err := e.points.Insert(ctx, &p)
		if err != nil {
			return nil, fmt.Errorf("insert %s point: %w", p.DataType, err)
		}
		if !inserted {
			continue
		}
		result.Persisted++
		result.ByType[p.DataType]++
		result.Inserted = append(result.Inserted, p)
	}
	result.Duplicates = result.Fetched - result.Persisted
	return result, nil
}
