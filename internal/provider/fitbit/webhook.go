package fitbit

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
)

const signatureHeader = "X-Fitbit-Signature"

type notification struct {
	CollectionType string `json:"collectionType"`
	Date           string `json:"date"`
	OwnerID        string `json:"ownerId"`
	OwnerType      string `json:"ownerType"`
	SubscriptionID string `json:"subscriptionId"`
}

var collectionTypes = map[string][]model.DataType{
	"activities": {model.DataTypeSteps, model.DataTypeCalories, model.DataTypeHeartRate, model.DataTypeExercise},
	"body":       {model.DataTypeWeight},
	"sleep":      {model.DataTypeSleep},
}

// VerifyWebhook checks X-Fitbit-Signature, the base64 HMAC-SHA1 of the raw
// body keyed with "<client secret>&".
func (a *Adapter) VerifyWebhook(req *provider.WebhookRequest) error {
	if a.creds.ClientSecret == "" {
		return fmt.Errorf("%w: client secret not configured", provider.ErrInvalidSignature)
	}
	got, err := base64.StdEncoding.DecodeString(req.Header.Get(signatureHeader))
	if err != nil || len(got) == 0 {
		return provider.ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(a.creds.ClientSecret, req.Body)) {
		return provider.ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw signature Fitbit sends for body.
func Sign(clientSecret string, body []byte) []byte {
	mac := hmac.New(sha1.New, []byte(clientSecret+"&"))
	mac.Write(body)
	return mac.Sum(nil)
}

// HandleWebhook maps a notification batch to per-owner events. Fitbit never
// sends data inline, so events only name the affected types and day.
func (a *Adapter) HandleWebhook(_ context.Context, req *provider.WebhookRequest) ([]provider.WebhookEvent, error) {
	var batch []notification
	if err := json.Unmarshal(req.Body, &batch); err != nil {
		return nil, fmt.Errorf("%w: decode fitbit notification: %w", provider.ErrMalformedWebhook, err)
	}

	events := make([]provider.WebhookEvent, 0, len(batch))
	for _, n := range batch {
		if n.OwnerID == "" {
			continue
		}
		if n.CollectionType == "userRevokedAccess" || n.CollectionType == "deleteUser" {
			events = append(events, provider.WebhookEvent{ExternalUserID: n.OwnerID, Revoked: true})
			continue
		}

		types, ok := collectionTypes[n.CollectionType]
		if !ok {
			continue
		}
		event := provider.WebhookEvent{
			ExternalUserID: n.OwnerID,
			DataTypes:      append([]model.DataType(nil), types...),
		}
		if day, err := time.Parse(dateLayout, n.Date); err == nil {
			end := day.Add(24*time.Hour - time.Millisecond)
			event.From = &day
			event.To = &end
		}
		events = append(events, event)
	}
	return events, nil
}

// SetupWebhook subscribes the user to all collections under the integration id.
func (a *Adapter) SetupWebhook(ctx context.Context, accessToken string, integrationID int64) error {
	path := fmt.Sprintf("/1/user/-/apiSubscriptions/%s.json", strconv.FormatInt(integrationID, 10))
	err := a.api.Session(accessToken, nil).PostJSON(ctx, path, nil, nil)

	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create fitbit subscription: %w", err)
	}
	return nil
}

// VerifySubscriber answers the subscriber endpoint check: the configured code
// gets 204, anything else 404.
func (a *Adapter) VerifySubscriber(query url.Values) bool {
	code := query.Get("verify")
	expected := a.creds.SubscriberVerificationCode
	if code == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(expected)) == 1
}
