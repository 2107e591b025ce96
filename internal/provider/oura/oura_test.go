package oura_test

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/provider/oura"
)

var _ = Describe("Adapter", func() {
	var (
		mux     *http.ServeMux
		adapter *oura.Adapter
		clk     *clock.Fake
		ctx     context.Context
		from    time.Time
		to      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux = http.NewServeMux()
		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		clk = clock.NewFake(time.Unix(1700000060, 0))
		adapter = oura.New(oura.Options{
			Credentials: config.ProviderCredentials{
				ClientID:     "client",
				ClientSecret: "secret",
				APIBaseURL:   server.URL,
			},
			Clock: clk,
		})
		from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		to = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	})

	It("reads steps and calories from one daily activity fetch", func() {
		calls := 0
		mux.HandleFunc("/v2/usercollection/daily_activity", func(w http.ResponseWriter, r *http.Request) {
			calls++
			if r.URL.Query().Get("next_token") == "" {
				_, _ = w.Write([]byte(`{"data":[{"id":"a1","day":"2024-01-01","steps":9000,"total_calories":2300}],"next_token":"p2"}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"id":"a2","day":"2024-01-02","steps":4000,"total_calories":1900}],"next_token":null}`))
		})

		result, err := adapter.SyncData(ctx, "token", []model.DataType{model.DataTypeSteps, model.DataTypeCalories}, from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
		Expect(result.Points).To(HaveLen(4))
		Expect(result.Points[0].Unit).To(Equal("count"))
		Expect(result.Points[2].DataType).To(Equal(model.DataTypeCalories))
		Expect(result.Points[2].Unit).To(Equal("kcal"))
	})

	It("converts sleep seconds to minutes", func() {
		mux.HandleFunc("/v2/usercollection/sleep", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"id":"s1","bedtime_start":"2024-01-01T23:00:00+01:00","total_sleep_duration":27000,"type":"long_sleep"}]}`))
		})

		result, err := adapter.SyncData(ctx, "token", []model.DataType{model.DataTypeSleep}, from, to)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Points).To(HaveLen(1))
		Expect(result.Points[0].Value).To(Equal(450.0))
		Expect(result.Points[0].RecordedAt).To(Equal(time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)))
	})

	It("does not require PKCE", func() {
		Expect(adapter.RequiresPKCE()).To(BeFalse())
	})

	Describe("webhooks", func() {
		body := []byte(`{"event_type":"update","data_type":"workout","object_id":"w1","user_id":"oura-user"}`)

		It("verifies the timestamped signature", func() {
			h := http.Header{}
			h.Set("x-oura-timestamp", "1700000000")
			h.Set("x-oura-signature", hex.EncodeToString(oura.Sign("secret", "1700000000", body)))
			req := &provider.WebhookRequest{Header: h, Body: body}
			Expect(adapter.VerifyWebhook(req)).To(Succeed())

			h.Set("x-oura-timestamp", "1700000001")
			Expect(adapter.VerifyWebhook(req)).To(MatchError(provider.ErrInvalidSignature))
		})

		It("refuses a correctly signed delivery once its timestamp is stale", func() {
			h := http.Header{}
			h.Set("x-oura-timestamp", "1700000000")
			h.Set("x-oura-signature", hex.EncodeToString(oura.Sign("secret", "1700000000", body)))
			req := &provider.WebhookRequest{Header: h, Body: body}

			clk.Advance(10 * time.Minute)
			Expect(adapter.VerifyWebhook(req)).To(MatchError(provider.ErrInvalidSignature))

			clk.Set(time.Unix(1700000000, 0).Add(-10 * time.Minute))
			Expect(adapter.VerifyWebhook(req)).To(MatchError(provider.ErrInvalidSignature))
		})

		It("refuses a delivery without a numeric timestamp", func() {
			h := http.Header{}
			h.Set("x-oura-timestamp", "yesterday")
			h.Set("x-oura-signature", hex.EncodeToString(oura.Sign("secret", "yesterday", body)))
			Expect(adapter.VerifyWebhook(&provider.WebhookRequest{Header: h, Body: body})).To(MatchError(provider.ErrInvalidSignature))
		})

		It("reports an unparseable body as malformed", func() {
			_, err := adapter.HandleWebhook(ctx, &provider.WebhookRequest{Body: []byte(`{"event_type":`)})
			Expect(err).To(MatchError(provider.ErrMalformedWebhook))
		})

		It("maps workout notifications to exercise", func() {
			events, err := adapter.HandleWebhook(ctx, &provider.WebhookRequest{Body: body})
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].ExternalUserID).To(Equal("oura-user"))
			Expect(events[0].DataTypes).To(ConsistOf(model.DataTypeExercise))
		})
	})
})
