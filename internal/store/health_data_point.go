package store

import (
	"context"
	"time"

	"healthbridge.app/syncer/core/db/sqlc"
	"healthbridge.app/syncer/internal/model"
)

type dataPointStore struct {
	queries *sqlc.Queries
}

func newDataPointStore(queries *sqlc.Queries) DataPointStore {
	return &dataPointStore{queries: queries}
}

func (s *dataPointStore) ListForIntegration(ctx context.Context, userID string, integrationID int64, from, to time.Time) ([]model.HealthDataPoint, error) {
	rows, err := s.queries.ListHealthDataPointsForIntegration(ctx, sqlc.ListHealthDataPointsForIntegrationParams{
		UserID:        userID,
		IntegrationID: integrationID,
		FromTime:      pgTimestamptz(from),
		ToTime:        pgTimestamptz(to),
	})
	if err != nil {
		return nil, err
	}
	return toDataPointModels(rows), nil
}

func (s *dataPointStore) ListByType(ctx context.Context, userID string, dataType model.DataType, from, to time.Time) ([]model.HealthDataPoint, error) {
	rows, err := s.queries.ListHealthDataPointsByType(ctx, sqlc.ListHealthDataPointsByTypeParams{
		UserID:   userID,
		DataType: string(dataType),
		FromTime: pgTimestamptz(from),
		ToTime:   pgTimestamptz(to),
	})
	if err != nil {
		return nil, err
	}
	return toDataPointModels(rows), nil
}

func (s *dataPointStore) Insert(ctx context.Context, point *model.HealthDataPoint) (bool, error) {
	n, err := s.queries.InsertHealthDataPoint(ctx, sqlc.InsertHealthDataPointParams{
		ID:            point.ID,
		UserID:        point.UserID,
		IntegrationID: point.IntegrationID,
		DataType:      string(point.DataType),
		Value:         point.Value,
		Unit:          point.Unit,
		RecordedAt:    pgTimestamptz(point.RecordedAt),
		Source:        point.Source,
		Confidence:    point.Confidence,
		RawRef:        point.RawRef,
		CreatedAt:     pgTimestamptz(point.CreatedAt),
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func toDataPointModel(row sqlc.HealthDataPoint) model.HealthDataPoint {
	return model.HealthDataPoint{
		ID:            row.ID,
		UserID:        row.UserID,
		IntegrationID: row.IntegrationID,
		DataType:      model.DataType(row.DataType),
		Value:         row.Value,
		Unit:          row.Unit,
		RecordedAt:    row.RecordedAt.Time.UTC(),
		Source:        row.Source,
		Confidence:    row.Confidence,
		RawRef:        row.RawRef,
		CreatedAt:     row.CreatedAt.Time,
	}
}

func toDataPointModels(rows []sqlc.HealthDataPoint) []model.HealthDataPoint {
	result := make([]model.HealthDataPoint, len(rows))
	for i, row := range rows {
		result[i] = toDataPointModel(row)
	}
	return result
}
