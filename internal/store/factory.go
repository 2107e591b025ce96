package store

import (
	"healthbridge.app/syncer/core/db/sqlc"
)

type Stores struct {
	queries *sqlc.Queries
}

var _ StoreProvider = (*Stores)(nil)

func NewStores(queries *sqlc.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Integrations() IntegrationStore {
	return newIntegrationStore(s.queries)
}

func (s *Stores) OAuthFlowStates() OAuthFlowStateStore {
	return newOAuthFlowStateStore(s.queries)
}

func (s *Stores) DataPoints() DataPointStore {
	return newDataPointStore(s.queries)
}

func (s *Stores) SyncJobs() SyncJobStore {
	return newSyncJobStore(s.queries)
}
