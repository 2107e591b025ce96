package model

import "time"

// HealthDataPoint is the canonical, provider-agnostic measurement record.
// Points are immutable once persisted.
type HealthDataPoint struct {
	ID            int64     `json:"id,string"`
	UserID        string    `json:"user_id" jsonschema:"description=External identifier of the owning user"`
	IntegrationID int64     `json:"integration_id,string"`
	DataType      DataType  `json:"data_type" jsonschema:"enum=steps,enum=heart_rate,enum=sleep,enum=weight,enum=calories,enum=exercise,enum=blood_pressure"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit" jsonschema:"enum=count,enum=bpm,enum=min,enum=kg,enum=kcal,enum=mmHg"`
	RecordedAt    time.Time `json:"recorded_at"`
	Source        string    `json:"source" jsonschema:"description=Provider and device that produced the measurement"`
	Confidence    *float64  `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	RawRef        *string   `json:"raw_ref,omitempty" jsonschema:"description=Provider-side identifier of the raw payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// DedupKey identifies logical duplicates within one user's integration.
// Provenance is deliberately not part of the key.
type DedupKey struct {
	DataType   DataType
	Value      float64
	RecordedMs int64
}

func (p *HealthDataPoint) DedupKey() DedupKey {
	return DedupKey{
		DataType:   p.DataType,
		Value:      p.Value,
		RecordedMs: p.RecordedAt.UnixMilli(),
	}
}

// NormalizeTimestamp truncates to millisecond precision in UTC so the stored
// value and the dedup key agree.
func NormalizeTimestamp(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
