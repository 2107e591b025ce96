package model

import "fmt"

// Provider identifies an external health data service.
type Provider string

const (
	ProviderFitbit Provider = "fitbit"
	ProviderOura   Provider = "oura"
)

func (p Provider) String() string { return string(p) }

// DataType is the canonical measurement kind.
type DataType string

const (
	DataTypeSteps         DataType = "steps"
	DataTypeHeartRate     DataType = "heart_rate"
	DataTypeSleep         DataType = "sleep"
	DataTypeWeight        DataType = "weight"
	DataTypeCalories      DataType = "calories"
	DataTypeExercise      DataType = "exercise"
	DataTypeBloodPressure DataType = "blood_pressure"
)

// AllDataTypes lists every canonical data type in a stable order.
var AllDataTypes = []DataType{
	DataTypeSteps,
	DataTypeHeartRate,
	DataTypeSleep,
	DataTypeWeight,
	DataTypeCalories,
	DataTypeExercise,
	DataTypeBloodPressure,
}

var canonicalUnits = map[DataType]string{
	DataTypeSteps:         "count",
	DataTypeHeartRate:     "bpm",
	DataTypeSleep:         "min",
	DataTypeWeight:        "kg",
	DataTypeCalories:      "kcal",
	DataTypeExercise:      "min",
	DataTypeBloodPressure: "mmHg",
}

func (d DataType) Valid() bool {
	_, ok := canonicalUnits[d]
	return ok
}

// CanonicalUnit is the unit every adapter must convert into.
func (d DataType) CanonicalUnit() string {
	return canonicalUnits[d]
}

func ParseDataType(s string) (DataType, error) {
	d := DataType(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return d, nil
}

func ParseDataTypes(values []string) ([]DataType, error) {
	out := make([]DataType, 0, len(values))
	for _, v := range values {
		d, err := ParseDataType(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func DataTypeStrings(types []DataType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// IntersectDataTypes keeps the entries of want that are also in allowed,
// preserving want's order. An empty want means "everything allowed".
func IntersectDataTypes(want, allowed []DataType) []DataType {
	if len(want) == 0 {
		return append([]DataType(nil), allowed...)
	}
	set := make(map[DataType]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	out := make([]DataType, 0, len(want))
	for _, w := range want {
		if _, ok := set[w]; ok {
			out = append(out, w)
		}
	}
	return out
}

// UnionDataTypes merges b into a without duplicates.
func UnionDataTypes(a, b []DataType) []DataType {
	seen := make(map[DataType]struct{}, len(a)+len(b))
	out := make([]DataType, 0, len(a)+len(b))
	for _, list := range [][]DataType{a, b} {
		for _, d := range list {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}
