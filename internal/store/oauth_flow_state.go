package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"healthbridge.app/syncer/core/db/sqlc"
	"healthbridge.app/syncer/internal/model"
)

type oauthFlowStateStore struct {
	queries *sqlc.Queries
}

func newOAuthFlowStateStore(queries *sqlc.Queries) OAuthFlowStateStore {
	return &oauthFlowStateStore{queries: queries}
}

func (s *oauthFlowStateStore) Create(ctx context.Context, state *model.OAuthFlowState) error {
	row, err := s.queries.CreateOAuthFlowState(ctx, sqlc.CreateOAuthFlowStateParams{
		ID:             state.ID,
		State:          state.State,
		UserID:         state.UserID,
		Provider:       string(state.Provider),
		CodeVerifier:   state.CodeVerifier,
		Scopes:         state.Scopes,
		RedirectTarget: state.RedirectTarget,
		ExpiresAt:      pgTimestamptz(state.ExpiresAt),
		CreatedAt:      pgTimestamptz(state.CreatedAt),
	})
	if err != nil {
		return err
	}
	*state = *toOAuthFlowStateModel(row)
	return nil
}

func (s *oauthFlowStateStore) Consume(ctx context.Context, state string) (*model.OAuthFlowState, error) {
	row, err := s.queries.ConsumeOAuthFlowState(ctx, state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toOAuthFlowStateModel(row), nil
}

func (s *oauthFlowStateStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.queries.DeleteExpiredOAuthFlowStates(ctx, pgTimestamptz(now))
}

func toOAuthFlowStateModel(row sqlc.OauthFlowState) *model.OAuthFlowState {
	return &model.OAuthFlowState{
		ID:             row.ID,
		State:          row.State,
		UserID:         row.UserID,
		Provider:       model.Provider(row.Provider),
		CodeVerifier:   row.CodeVerifier,
		Scopes:         row.Scopes,
		RedirectTarget: row.RedirectTarget,
		ExpiresAt:      row.ExpiresAt.Time,
		CreatedAt:      row.CreatedAt.Time,
	}
}
