package fitbit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
)

// Maximum date span per request for the range-limited endpoints.
const (
	weightMaxDays = 31
	sleepMaxDays  = 100
	activityLimit = 100
)

// Fitbit reports times in the user's local zone without an offset. They are
// stored as UTC wall time so repeated fetches map to identical timestamps.
var localLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.NormalizeTimestamp(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized fitbit timestamp %q", s)
}

type seriesEntry struct {
	DateTime string `json:"dateTime"`
	Value    string `json:"value"`
}

// fetchDailySeries reads an activities time series such as steps or calories.
func (a *Adapter) fetchDailySeries(ctx context.Context, sess *provider.Session, resource string, dataType model.DataType, from, to time.Time) ([]model.HealthDataPoint, error) {
	path := fmt.Sprintf("/1/user/-/activities/%s/date/%s/%s.json", resource, from.Format(dateLayout), to.Format(dateLayout))

	var resp map[string][]seriesEntry
	if err := sess.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	entries := resp["activities-"+resource]
	points := make([]model.HealthDataPoint, 0, len(entries))
	for _, e := range entries {
		value, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", resource, e.Value, err)
		}
		if value == 0 {
			continue
		}
		recordedAt, err := parseTime(e.DateTime)
		if err != nil {
			return nil, err
		}
		points = append(points, newPoint(dataType, value, recordedAt, resource+":"+e.DateTime))
	}
	return points, nil
}

type heartResponse struct {
	Days []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			RestingHeartRate *float64 `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
}

func (a *Adapter) fetchRestingHeartRate(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	path := fmt.Sprintf("/1/user/-/activities/heart/date/%s/%s.json", from.Format(dateLayout), to.Format(dateLayout))

	var resp heartResponse
	if err := sess.GetJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	points := make([]model.HealthDataPoint, 0, len(resp.Days))
	for _, d := range resp.Days {
		if d.Value.RestingHeartRate == nil {
			continue
		}
		recordedAt, err := parseTime(d.DateTime)
		if err != nil {
			return nil, err
		}
		points = append(points, newPoint(model.DataTypeHeartRate, *d.Value.RestingHeartRate, recordedAt, "heart:"+d.DateTime))
	}
	return points, nil
}

type weightResponse struct {
	Weight []struct {
		LogID  int64   `json:"logId"`
		Weight float64 `json:"weight"`
		Date   string  `json:"date"`
		Time   string  `json:"time"`
		Source string  `json:"source"`
	} `json:"weight"`
}

// fetchWeight relies on the API's metric default (kg) since no Accept-Language is sent.
func (a *Adapter) fetchWeight(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	var points []model.HealthDataPoint
	for _, window := range splitRange(from, to, weightMaxDays) {
		path := fmt.Sprintf("/1/user/-/body/log/weight/date/%s/%s.json", window[0].Format(dateLayout), window[1].Format(dateLayout))

		var resp weightResponse
		if err := sess.GetJSON(ctx, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, w := range resp.Weight {
			recordedAt, err := parseTime(w.Date + "T" + w.Time)
			if err != nil {
				return nil, err
			}
			p := newPoint(model.DataTypeWeight, w.Weight, recordedAt, "weight:"+strconv.FormatInt(w.LogID, 10))
			if w.Source != "" {
				p.Source = "fitbit:" + w.Source
			}
			points = append(points, p)
		}
	}
	return points, nil
}

type sleepResponse struct {
	Sleep []struct {
		LogID         int64   `json:"logId"`
		StartTime     string  `json:"startTime"`
		MinutesAsleep float64 `json:"minutesAsleep"`
		Efficiency    float64 `json:"efficiency"`
	} `json:"sleep"`
}

func (a *Adapter) fetchSleep(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	var points []model.HealthDataPoint
	for _, window := range splitRange(from, to, sleepMaxDays) {
		path := fmt.Sprintf("/1.2/user/-/sleep/date/%s/%s.json", window[0].Format(dateLayout), window[1].Format(dateLayout))

		var resp sleepResponse
		if err := sess.GetJSON(ctx, path, nil, &resp); err != nil {
			return nil, err
		}
		for _, s := range resp.Sleep {
			recordedAt, err := parseTime(s.StartTime)
			if err != nil {
				return nil, err
			}
			p := newPoint(model.DataTypeSleep, s.MinutesAsleep, recordedAt, "sleep:"+strconv.FormatInt(s.LogID, 10))
			if s.Efficiency > 0 {
				confidence := s.Efficiency / 100
				p.Confidence = &confidence
			}
			points = append(points, p)
		}
	}
	return points, nil
}

type activityListResponse struct {
	Activities []struct {
		LogID          int64  `json:"logId"`
		StartTime      string `json:"startTime"`
		ActiveDuration int64  `json:"activeDuration"` // milliseconds
		ActivityName   string `json:"activityName"`
	} `json:"activities"`
}

// fetchExercise pages through the activity log forward from the start of the range.
func (a *Adapter) fetchExercise(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	var points []model.HealthDataPoint
	// afterDate is exclusive.
	after := from.AddDate(0, 0, -1).Format(dateLayout)
	end := to.AddDate(0, 0, 1)

	for offset := 0; ; offset += activityLimit {
		query := url.Values{
			"afterDate": {after},
			"sort":      {"asc"},
			"offset":    {strconv.Itoa(offset)},
			"limit":     {strconv.Itoa(activityLimit)},
		}

		var resp activityListResponse
		if err := sess.GetJSON(ctx, "/1/user/-/activities/list.json", query, &resp); err != nil {
			return nil, err
		}

		for _, act := range resp.Activities {
			recordedAt, err := parseTime(act.StartTime)
			if err != nil {
				return nil, err
			}
			if !recordedAt.Before(end) {
				return points, nil
			}
			minutes := float64(act.ActiveDuration) / float64(time.Minute/time.Millisecond)
			p := newPoint(model.DataTypeExercise, minutes, recordedAt, "activity:"+strconv.FormatInt(act.LogID, 10))
			points = append(points, p)
		}

		if len(resp.Activities) < activityLimit {
			return points, nil
		}
	}
}

func newPoint(dataType model.DataType, value float64, recordedAt time.Time, rawRef string) model.HealthDataPoint {
	return model.HealthDataPoint{
		DataType:   dataType,
		Value:      value,
		Unit:       dataType.CanonicalUnit(),
		RecordedAt: recordedAt,
		Source:     string(model.ProviderFitbit),
		RawRef:     &rawRef,
	}
}

// splitRange cuts [from, to] into inclusive day windows of at most maxDays.
func splitRange(from, to time.Time, maxDays int) [][2]time.Time {
	start := truncateDay(from)
	last := truncateDay(to)

	var windows [][2]time.Time
	for !start.After(last) {
		end := start.AddDate(0, 0, maxDays-1)
		if end.After(last) {
			end = last
		}
		windows = append(windows, [2]time.Time{start, end})
		start = end.AddDate(0, 0, 1)
	}
	return windows
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
