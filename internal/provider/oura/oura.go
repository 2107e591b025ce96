// Package oura implements the Oura Ring v2 API adapter.
package oura

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
)

const (
	defaultAuthURL = "https://cloud.ouraring.com/oauth/authorize"
	dateLayout     = "2006-01-02"
	collectionPath = "/v2/usercollection/"
)

var supportedDataTypes = []model.DataType{
	model.DataTypeSteps,
	model.DataTypeCalories,
	model.DataTypeHeartRate,
	model.DataTypeSleep,
	model.DataTypeExercise,
}

var defaultScopes = []string{"personal", "daily", "heartrate", "workout"}

type Options struct {
	Credentials    config.ProviderCredentials
	AuthURL        string
	AdapterTimeout time.Duration
	HTTPClient     *http.Client
	Metrics        metrics.Recorder
	// Clock judges webhook timestamp age. Defaults to the wall clock.
	Clock clock.Clock
}

type Adapter struct {
	creds   config.ProviderCredentials
	authURL string
	api     *provider.APIClient
	clock   clock.Clock
}

var _ provider.WebhookAdapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Adapter{
		creds:   opts.Credentials,
		authURL: authURL,
		clock:   clk,
		api: provider.NewAPIClient(provider.APIClientConfig{
			Provider:        model.ProviderOura,
			BaseURL:         opts.Credentials.APIBaseURL,
			Timeout:         opts.AdapterTimeout,
			RequestInterval: opts.Credentials.RequestInterval,
			HTTPClient:      opts.HTTPClient,
			Metrics:         opts.Metrics,
		}),
	}
}

func (a *Adapter) Provider() model.Provider { return model.ProviderOura }

// RequiresPKCE is false: Oura's server-side flow authenticates with the client secret.
func (a *Adapter) RequiresPKCE() bool { return false }

func (a *Adapter) DefaultScopes() []string { return append([]string(nil), defaultScopes...) }

func (a *Adapter) SupportedDataTypes() []model.DataType {
	return append([]model.DataType(nil), supportedDataTypes...)
}

func (a *Adapter) OAuthConfig() (*oauth2.Config, error) {
	if !a.creds.Enabled() {
		return nil, &domain.ConfigurationError{Provider: model.ProviderOura, Reason: "OURA_CLIENT_ID and OURA_CLIENT_SECRET are required"}
	}
	return &oauth2.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		RedirectURL:  a.creds.RedirectURL,
		Scopes:       a.DefaultScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.authURL,
			TokenURL:  strings.TrimRight(a.creds.APIBaseURL, "/") + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

type page struct {
	Data      []json.RawMessage `json:"data"`
	NextToken *string           `json:"next_token"`
}

// collect follows next_token until the collection is exhausted.
func collect[T any](ctx context.Context, sess *provider.Session, resource string, query url.Values) ([]T, error) {
	var out []T
	for {
		var p page
		if err := sess.GetJSON(ctx, collectionPath+resource, query, &p); err != nil {
			return nil, err
		}
		for _, raw := range p.Data {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode %s item: %w", resource, err)
			}
			out = append(out, item)
		}
		if p.NextToken == nil || *p.NextToken == "" {
			return out, nil
		}
		query.Set("next_token", *p.NextToken)
	}
}

func dateQuery(from, to time.Time) url.Values {
	return url.Values{
		"start_date": {from.UTC().Format(dateLayout)},
		"end_date":   {to.UTC().Format(dateLayout)},
	}
}

type dailyActivity struct {
	ID            string  `json:"id"`
	Day           string  `json:"day"`
	Steps         float64 `json:"steps"`
	TotalCalories float64 `json:"total_calories"`
}

type heartRateSample struct {
	BPM       float64 `json:"bpm"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

type sleepPeriod struct {
	ID                 string  `json:"id"`
	BedtimeStart       string  `json:"bedtime_start"`
	TotalSleepDuration float64 `json:"total_sleep_duration"` // seconds
	Type               string  `json:"type"`
}

type workout struct {
	ID            string `json:"id"`
	Activity      string `json:"activity"`
	StartDatetime string `json:"start_datetime"`
	EndDatetime   string `json:"end_datetime"`
}

func (a *Adapter) SyncData(ctx context.Context, accessToken string, dataTypes []model.DataType, from, to time.Time) (*provider.SyncResult, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid sync range: %s is after %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	sess := a.api.Session(accessToken, provider.NewBudget(a.creds.RequestsPerSync))
	types := model.IntersectDataTypes(dataTypes, supportedDataTypes)

	// Steps and calories share one endpoint.
	var activity []dailyActivity
	var activityErr error
	activityLoaded := false
	loadActivity := func(ctx context.Context) ([]dailyActivity, error) {
		if !activityLoaded {
			activity, activityErr = collect[dailyActivity](ctx, sess, "daily_activity", dateQuery(from, to))
			activityLoaded = true
		}
		return activity, activityErr
	}

	return provider.Collect(ctx, types, func(ctx context.Context, dataType model.DataType) ([]model.HealthDataPoint, error) {
		switch dataType {
		case model.DataTypeSteps, model.DataTypeCalories:
			days, err := loadActivity(ctx)
			if err != nil {
				return nil, err
			}
			return activityPoints(days, dataType)
		case model.DataTypeHeartRate:
			return a.fetchHeartRate(ctx, sess, from, to)
		case model.DataTypeSleep:
			return a.fetchSleep(ctx, sess, from, to)
		case model.DataTypeExercise:
			return a.fetchWorkouts(ctx, sess, from, to)
		default:
			return nil, fmt.Errorf("data type %s is not supported by oura", dataType)
		}
	}), nil
}

func activityPoints(days []dailyActivity, dataType model.DataType) ([]model.HealthDataPoint, error) {
	points := make([]model.HealthDataPoint, 0, len(days))
	for _, d := range days {
		value := d.Steps
		if dataType == model.DataTypeCalories {
			value = d.TotalCalories
		}
		if value == 0 {
			continue
		}
		day, err := time.Parse(dateLayout, d.Day)
		if err != nil {
			return nil, fmt.Errorf("parse daily_activity day %q: %w", d.Day, err)
		}
		points = append(points, newPoint(dataType, value, day, "daily_activity:"+d.ID))
	}
	return points, nil
}

func (a *Adapter) fetchHeartRate(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	query := url.Values{
		"start_datetime": {from.UTC().Format(time.RFC3339)},
		"end_datetime":   {to.UTC().Format(time.RFC3339)},
	}
	samples, err := collect[heartRateSample](ctx, sess, "heartrate", query)
	if err != nil {
		return nil, err
	}

	points := make([]model.HealthDataPoint, 0, len(samples))
	for _, s := range samples {
		ts, err := time.Parse(time.RFC3339, s.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse heartrate timestamp %q: %w", s.Timestamp, err)
		}
		p := newPoint(model.DataTypeHeartRate, s.BPM, ts, "")
		if s.Source != "" {
			p.Source = "oura:" + s.Source
		}
		points = append(points, p)
	}
	return points, nil
}

func (a *Adapter) fetchSleep(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	periods, err := collect[sleepPeriod](ctx, sess, "sleep", dateQuery(from, to))
	if err != nil {
		return nil, err
	}

	points := make([]model.HealthDataPoint, 0, len(periods))
	for _, s := range periods {
		if s.Type == "deleted" {
			continue
		}
		start, err := time.Parse(time.RFC3339, s.BedtimeStart)
		if err != nil {
			return nil, fmt.Errorf("parse bedtime_start %q: %w", s.BedtimeStart, err)
		}
		points = append(points, newPoint(model.DataTypeSleep, s.TotalSleepDuration/60, start, "sleep:"+s.ID))
	}
	return points, nil
}

func (a *Adapter) fetchWorkouts(ctx context.Context, sess *provider.Session, from, to time.Time) ([]model.HealthDataPoint, error) {
	workouts, err := collect[workout](ctx, sess, "workout", dateQuery(from, to))
	if err != nil {
		return nil, err
	}

	points := make([]model.HealthDataPoint, 0, len(workouts))
	for _, w := range workouts {
		start, err := time.Parse(time.RFC3339, w.StartDatetime)
		if err != nil {
			return nil, fmt.Errorf("parse workout start %q: %w", w.StartDatetime, err)
		}
		end, err := time.Parse(time.RFC3339, w.EndDatetime)
		if err != nil {
			return nil, fmt.Errorf("parse workout end %q: %w", w.EndDatetime, err)
		}
		points = append(points, newPoint(model.DataTypeExercise, end.Sub(start).Minutes(), start, "workout:"+w.ID))
	}
	return points, nil
}

type personalInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Adapter) GetUserInfo(ctx context.Context, accessToken string) (*provider.UserInfo, error) {
	var info personalInfo
	if err := a.api.Session(accessToken, nil).GetJSON(ctx, collectionPath+"personal_info", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch oura personal info: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("oura personal info has no id")
	}
	return &provider.UserInfo{ExternalUserID: info.ID, DisplayName: info.Email}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, accessToken string) (bool, error) {
	_, err := a.GetUserInfo(ctx, accessToken)
	if errors.Is(err, provider.ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func newPoint(dataType model.DataType, value float64, recordedAt time.Time, rawRef string) model.HealthDataPoint {
	p := model.HealthDataPoint{
		DataType:   dataType,
		Value:      value,
		Unit:       dataType.CanonicalUnit(),
		RecordedAt: model.NormalizeTimestamp(recordedAt),
		Source:     string(model.ProviderOura),
	}
	if rawRef != "" {
		p.RawRef = &rawRef
	}
	return p
}
