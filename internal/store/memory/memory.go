// Package memory is an in-process implementation of the store interfaces.
// It backs STORE_BACKEND=memory development runs and the service tests, and
// mirrors the SQL semantics: unique keys, guarded status transitions and
// atomic claims. WithTx serializes callers but does not roll back.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/store"
)

var errDuplicateState = errors.New("memory: duplicate oauth state")

type Store struct {
	txMu sync.Mutex

	mu           sync.Mutex
	integrations map[int64]model.Integration
	states       map[string]model.OAuthFlowState
	points       []model.HealthDataPoint
	pointKeys    map[pointKey]struct{}
	jobs         map[int64]model.SyncJob
	nextID       int64
}

type pointKey struct {
	userID        string
	integrationID int64
	key           model.DedupKey
}

var (
	_ store.StoreProvider = (*Store)(nil)
	_ store.TxRunner      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		integrations: make(map[int64]model.Integration),
		states:       make(map[string]model.OAuthFlowState),
		pointKeys:    make(map[pointKey]struct{}),
		jobs:         make(map[int64]model.SyncJob),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(stores store.StoreProvider) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *Store) Integrations() store.IntegrationStore       { return (*integrations)(s) }
func (s *Store) OAuthFlowStates() store.OAuthFlowStateStore { return (*states)(s) }
func (s *Store) DataPoints() store.DataPointStore           { return (*points)(s) }
func (s *Store) SyncJobs() store.SyncJobStore               { return (*jobs)(s) }

// AllDataPoints returns a copy of every stored point, oldest first.
func (s *Store) AllDataPoints() []model.HealthDataPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.HealthDataPoint(nil), s.points...)
}

// AllJobs returns a copy of every stored job ordered by id.
func (s *Store) AllJobs() []model.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (s *Store) assignID(id int64) int64 {
	if id != 0 {
		return id
	}
	s.nextID++
	return s.nextID
}

type integrations Store

func (s *integrations) GetByID(ctx context.Context, id int64) (*model.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneIntegration(in), nil
}

func (s *integrations) GetByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.integrations {
		if in.UserID == userID && in.Provider == provider {
			return cloneIntegration(in), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *integrations) ListByUser(ctx context.Context, userID string) ([]model.Integration, error) {
	return s.filter(func(in model.Integration) bool { return in.UserID == userID }, func(a, b model.Integration) bool {
		return a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID)
	}), nil
}

func (s *integrations) ListByExternalUser(ctx context.Context, provider model.Provider, externalUserID string) ([]model.Integration, error) {
	return s.filter(func(in model.Integration) bool {
		return in.Provider == provider &&
			in.ExternalUserID != nil && *in.ExternalUserID == externalUserID &&
			in.Status != model.IntegrationStatusDisconnected
	}, func(a, b model.Integration) bool { return a.UpdatedAt.After(b.UpdatedAt) }), nil
}

func (s *integrations) ListDueForSync(ctx context.Context, now time.Time, limit int32) ([]model.Integration, error) {
	s.mu.Lock()
	active := make(map[int64]bool)
	for _, j := range s.jobs {
		if j.Status == model.SyncJobStatusPending || j.Status == model.SyncJobStatusRunning {
			active[j.IntegrationID] = true
		}
	}
	s.mu.Unlock()

	due := s.filter(func(in model.Integration) bool {
		if in.Status != model.IntegrationStatusConnected || active[in.ID] {
			return false
		}
		return in.LastSyncAt == nil || !in.LastSyncAt.Add(in.SyncCadence()).After(now)
	}, func(a, b model.Integration) bool {
		if a.LastSyncAt == nil {
			return b.LastSyncAt != nil
		}
		return b.LastSyncAt != nil && a.LastSyncAt.Before(*b.LastSyncAt)
	})
	if limit > 0 && len(due) > int(limit) {
		due = due[:limit]
	}
	return due, nil
}

func (s *integrations) UpsertConnected(ctx context.Context, integration *model.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.integrations {
		if existing.UserID != integration.UserID || existing.Provider != integration.Provider {
			continue
		}
		existing.Status = model.IntegrationStatusConnected
		existing.AccessToken = integration.AccessToken
		if integration.RefreshToken != nil {
			existing.RefreshToken = integration.RefreshToken
		}
		existing.TokenExpiresAt = integration.TokenExpiresAt
		existing.Scopes = integration.Scopes
		existing.DataTypes = integration.DataTypes
		if integration.ExternalUserID != nil {
			existing.ExternalUserID = integration.ExternalUserID
		}
		existing.RefreshFailures = 0
		existing.LastError = nil
		existing.UpdatedAt = integration.CreatedAt
		s.integrations[id] = existing
		*integration = *cloneIntegration(existing)
		return nil
	}

	in := *cloneIntegration(*integration)
	in.ID = (*Store)(s).assignID(in.ID)
	in.Status = model.IntegrationStatusConnected
	in.RefreshFailures = 0
	in.UpdatedAt = in.CreatedAt
	s.integrations[in.ID] = in
	*integration = *cloneIntegration(in)
	return nil
}

func (s *integrations) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.AccessToken = accessToken
		in.RefreshToken = refreshToken
		in.TokenExpiresAt = expiresAt
		in.RefreshFailures = 0
		in.UpdatedAt = now
	})
}

func (s *integrations) IncrementRefreshFailures(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.RefreshFailures++
		in.LastError = &lastError
		in.UpdatedAt = now
	})
}

func (s *integrations) SetStatus(ctx context.Context, id int64, status model.IntegrationStatus, lastError *string, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.Status = status
		in.LastError = lastError
		in.UpdatedAt = now
	})
}

func (s *integrations) RecordSync(ctx context.Context, id int64, lastSyncAt *time.Time, status model.SyncStatus, lastError *string, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		if lastSyncAt != nil {
			in.LastSyncAt = lastSyncAt
		}
		in.LastSyncStatus = &status
		in.LastError = lastError
		in.UpdatedAt = now
	})
}

func (s *integrations) RecordSyncError(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.LastError = &lastError
		in.UpdatedAt = now
	})
}

func (s *integrations) UpdatePreferences(ctx context.Context, id int64, dataTypes []model.DataType, intervalMinutes int32, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.DataTypes = append([]model.DataType(nil), dataTypes...)
		in.SyncIntervalMinutes = intervalMinutes
		in.UpdatedAt = now
	})
}

func (s *integrations) Disconnect(ctx context.Context, id int64, reason *string, now time.Time) (*model.Integration, error) {
	return s.mutate(id, func(in *model.Integration) {
		in.Status = model.IntegrationStatusDisconnected
		in.AccessToken = ""
		in.RefreshToken = nil
		in.TokenExpiresAt = nil
		in.LastError = reason
		in.UpdatedAt = now
	})
}

func (s *integrations) mutate(id int64, fn func(in *model.Integration)) (*model.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	fn(&in)
	s.integrations[id] = in
	return cloneIntegration(in), nil
}

func (s *integrations) filter(keep func(model.Integration) bool, less func(a, b model.Integration) bool) []model.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Integration{}
	for _, in := range s.integrations {
		if keep(in) {
			out = append(out, *cloneIntegration(in))
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return less(out[i], out[k]) })
	return out
}

func cloneIntegration(in model.Integration) *model.Integration {
	out := in
	out.Scopes = append([]string(nil), in.Scopes...)
	out.DataTypes = append([]model.DataType(nil), in.DataTypes...)
	return &out
}

type states Store

func (s *states) Create(ctx context.Context, state *model.OAuthFlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state.State]; exists {
		return errDuplicateState
	}
	st := *state
	st.ID = (*Store)(s).assignID(st.ID)
	s.states[st.State] = st
	*state = st
	return nil
}

func (s *states) Consume(ctx context.Context, state string) (*model.OAuthFlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.states, state)
	return &st, nil
}

func (s *states) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, st := range s.states {
		if !st.ExpiresAt.After(now) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

type points Store

func (s *points) ListForIntegration(ctx context.Context, userID string, integrationID int64, from, to time.Time) ([]model.HealthDataPoint, error) {
	return s.list(func(p model.HealthDataPoint) bool {
		return p.UserID == userID && p.IntegrationID == integrationID && inRange(p.RecordedAt, from, to)
	}), nil
}

func (s *points) ListByType(ctx context.Context, userID string, dataType model.DataType, from, to time.Time) ([]model.HealthDataPoint, error) {
	return s.list(func(p model.HealthDataPoint) bool {
		return p.UserID == userID && p.DataType == dataType && inRange(p.RecordedAt, from, to)
	}), nil
}

func (s *points) Insert(ctx context.Context, point *model.HealthDataPoint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pointKey{userID: point.UserID, integrationID: point.IntegrationID, key: point.DedupKey()}
	if _, exists := s.pointKeys[k]; exists {
		return false, nil
	}
	p := *point
	p.ID = (*Store)(s).assignID(p.ID)
	s.pointKeys[k] = struct{}{}
	s.points = append(s.points, p)
	return true, nil
}

func (s *points) list(keep func(model.HealthDataPoint) bool) []model.HealthDataPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.HealthDataPoint{}
	for _, p := range s.points {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].RecordedAt.Before(out[k].RecordedAt) })
	return out
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

type jobs Store

func (s *jobs) Create(ctx context.Context, job *model.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := cloneJob(*job)
	j.ID = (*Store)(s).assignID(j.ID)
	j.Status = model.SyncJobStatusPending
	j.RetryCount = 0
	j.UpdatedAt = j.CreatedAt
	s.jobs[j.ID] = j
	*job = cloneJob(j)
	return nil
}

func (s *jobs) GetByID(ctx context.Context, id int64) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneJob(j)
	return &out, nil
}

func (s *jobs) GetPendingForIntegration(ctx context.Context, integrationID int64) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.SyncJob
	for _, j := range s.jobs {
		if j.IntegrationID != integrationID || j.Status != model.SyncJobStatusPending {
			continue
		}
		if found == nil || j.ScheduledFor.Before(found.ScheduledFor) {
			c := cloneJob(j)
			found = &c
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *jobs) ListByIntegration(ctx context.Context, integrationID int64, limit int32) ([]model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.SyncJob{}
	for _, j := range s.jobs {
		if j.IntegrationID == integrationID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (s *jobs) ClaimNext(ctx context.Context, now time.Time) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.SyncJob
	for _, j := range s.jobs {
		if j.Status != model.SyncJobStatusPending || j.ScheduledFor.After(now) {
			continue
		}
		if best == nil || claimsBefore(j, *best) {
			c := j
			best = &c
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	best.Status = model.SyncJobStatusRunning
	best.StartedAt = &now
	best.UpdatedAt = now
	s.jobs[best.ID] = *best
	out := cloneJob(*best)
	return &out, nil
}

func claimsBefore(a, b model.SyncJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.ID < b.ID
}

func (s *jobs) Finish(ctx context.Context, job *model.SyncJob, claimedAt time.Time) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[job.ID]
	if !ok || j.Status != model.SyncJobStatusRunning || j.StartedAt == nil || !j.StartedAt.Equal(claimedAt) {
		return nil, store.ErrNotFound
	}
	j.Status = job.Status
	j.RetryCount = job.RetryCount
	j.ScheduledFor = job.ScheduledFor
	j.NotBefore = job.NotBefore
	j.StartedAt = job.StartedAt
	j.CompletedAt = job.CompletedAt
	j.LastError = job.LastError
	j.UpdatedAt = job.UpdatedAt
	s.jobs[j.ID] = j
	out := cloneJob(j)
	return &out, nil
}

func (s *jobs) Reschedule(ctx context.Context, job *model.SyncJob) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[job.ID]
	if !ok || j.Status != model.SyncJobStatusPending {
		return nil, store.ErrNotFound
	}
	if job.ScheduledFor.Before(j.ScheduledFor) {
		j.ScheduledFor = job.ScheduledFor
	}
	if j.NotBefore != nil && j.ScheduledFor.Before(*j.NotBefore) {
		j.ScheduledFor = *j.NotBefore
	}
	if job.Priority > j.Priority {
		j.Priority = job.Priority
	}
	j.DataTypes = append([]model.DataType(nil), job.DataTypes...)
	j.RangeFrom = job.RangeFrom
	j.RangeTo = job.RangeTo
	j.UpdatedAt = job.UpdatedAt
	s.jobs[j.ID] = j
	out := cloneJob(j)
	return &out, nil
}

func (s *jobs) DeletePending(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != model.SyncJobStatusPending {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *jobs) DeletePendingForIntegration(ctx context.Context, integrationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.IntegrationID == integrationID && j.Status == model.SyncJobStatusPending {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *jobs) ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason := "reclaimed after worker liveness timeout"
	out := []model.SyncJob{}
	for id, j := range s.jobs {
		if j.Status != model.SyncJobStatusRunning || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		j.Status = model.SyncJobStatusPending
		j.StartedAt = nil
		j.ScheduledFor = now
		j.LastError = &reason
		j.UpdatedAt = now
		s.jobs[id] = j
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (s *jobs) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func cloneJob(j model.SyncJob) model.SyncJob {
	j.DataTypes = append([]model.DataType(nil), j.DataTypes...)
	return j
}
