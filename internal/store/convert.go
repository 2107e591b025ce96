package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"healthbridge.app/syncer/internal/model"
)

func timeToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func pgTimestamptzToPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func toDataTypes(values []string) []model.DataType {
	out := make([]model.DataType, 0, len(values))
	for _, v := range values {
		out = append(out, model.DataType(v))
	}
	return out
}

func stringPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
