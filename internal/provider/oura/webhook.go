package oura

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
)

const (
	signatureHeader = "x-oura-signature"
	timestampHeader = "x-oura-timestamp"

	// maxTimestampSkew bounds how far a signed delivery's timestamp may be from now.
	maxTimestampSkew = 5 * time.Minute
)

type notification struct {
	EventType string `json:"event_type"`
	DataType  string `json:"data_type"`
	ObjectID  string `json:"object_id"`
	EventTime string `json:"event_time"`
	UserID    string `json:"user_id"`
}

var webhookDataTypes = map[string][]model.DataType{
	"daily_activity": {model.DataTypeSteps, model.DataTypeCalories},
	"sleep":          {model.DataTypeSleep},
	"daily_sleep":    {model.DataTypeSleep},
	"workout":        {model.DataTypeExercise},
}

// VerifyWebhook checks the hex HMAC-SHA256 of timestamp+body keyed with the
// client secret, and rejects timestamps outside maxTimestampSkew.
func (a *Adapter) VerifyWebhook(req *provider.WebhookRequest) error {
	if a.creds.ClientSecret == "" {
		return fmt.Errorf("%w: client secret not configured", provider.ErrInvalidSignature)
	}
	ts := strings.TrimSpace(req.Header.Get(timestampHeader))
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing or malformed timestamp", provider.ErrInvalidSignature)
	}
	if skew := a.clock.Now().Sub(time.Unix(sec, 0)); skew > maxTimestampSkew || skew < -maxTimestampSkew {
		return fmt.Errorf("%w: timestamp outside the accepted window", provider.ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(req.Header.Get(signatureHeader)))
	if err != nil || len(got) == 0 {
		return provider.ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(a.creds.ClientSecret, ts, req.Body)) {
		return provider.ErrInvalidSignature
	}
	return nil
}

func Sign(clientSecret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}

func (a *Adapter) HandleWebhook(_ context.Context, req *provider.WebhookRequest) ([]provider.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("%w: decode oura notification: %w", provider.ErrMalformedWebhook, err)
	}
	types, ok := webhookDataTypes[n.DataType]
	if !ok || n.UserID == "" || n.EventType == "delete" {
		return nil, nil
	}
	return []provider.WebhookEvent{{
		ExternalUserID: n.UserID,
		DataTypes:      append([]model.DataType(nil), types...),
	}}, nil
}

// SetupWebhook is a no-op: Oura subscriptions are registered per application, not per user.
func (a *Adapter) SetupWebhook(context.Context, string, int64) error {
	return nil
}
