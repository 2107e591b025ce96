package service_test

import (
	"errors"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/service"
)

var _ = Describe("IntegrationService", func() {
	var (
		h            *harness
		integrations service.IntegrationService
	)

	BeforeEach(func() {
		h = newHarness()
		integrations = h.services.Integrations()
	})

	authorize := func(userID string) string {
		auth, err := integrations.Authorize(h.ctx, userID, model.ProviderFitbit, nil, "")
		Expect(err).NotTo(HaveOccurred())
		u, err := url.Parse(auth.AuthURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Query().Get("code_challenge_method")).To(Equal("S256"))
		return auth.State
	}

	Describe("HandleCallback", func() {
		It("stores sealed tokens, subscribes webhooks and enqueues the backfill", func() {
			state := authorize("user-1")

			conn, err := integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code-123", state)
			Expect(err).NotTo(HaveOccurred())

			in := conn.Integration
			Expect(in.Status).To(Equal(model.IntegrationStatusConnected))
			Expect(in.UserID).To(Equal("user-1"))
			Expect(*in.ExternalUserID).To(Equal("EXT-1"))
			Expect(in.AccessToken).NotTo(ContainSubstring("fresh-access"))
			plain, err := h.vault.Decrypt(in.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(plain).To(Equal("fresh-access"))
			Expect(in.DataTypes).To(Equal(h.adapter.SupportedDataTypes()))
			Expect(in.SyncIntervalMinutes).To(Equal(int32(60)))

			Expect(h.adapter.setupCalls).To(Equal(1))
			Expect(conn.InitialJob).NotTo(BeNil())
			Expect(conn.InitialJob.Trigger).To(Equal(model.SyncTriggerInitial))
		})

		It("never creates an integration for a state it did not issue", func() {
			_, err := integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code", "forged-state")
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())

			list, err := integrations.List(h.ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("succeeds at most once per state", func() {
			state := authorize("user-1")
			_, err := integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code", state)
			Expect(err).NotTo(HaveOccurred())

			_, err = integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code", state)
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("rejects a state issued for another provider", func() {
			state := authorize("user-1")
			_, err := integrations.HandleCallback(h.ctx, model.ProviderOura, "code", state)
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("connects even when the provider user cannot be resolved", func() {
			h.adapter.userInfoErr = errors.New("profile scope missing")
			conn, err := integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code", authorize("user-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Integration.ExternalUserID).To(BeNil())
		})

		It("keeps data type preferences on reconnect", func() {
			in := h.connect("user-1")
			_, err := integrations.UpdatePreferences(h.ctx, "user-1", in.ID, service.PreferencesUpdate{DataTypes: []model.DataType{model.DataTypeWeight}})
			Expect(err).NotTo(HaveOccurred())

			conn, err := integrations.HandleCallback(h.ctx, model.ProviderFitbit, "code", authorize("user-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Integration.ID).To(Equal(in.ID))
			Expect(conn.Integration.DataTypes).To(Equal([]model.DataType{model.DataTypeWeight}))
		})
	})

	Describe("UpdatePreferences", func() {
		It("rejects unsupported data types and intervals", func() {
			in := h.connect("user-1")
			_, err := integrations.UpdatePreferences(h.ctx, "user-1", in.ID, service.PreferencesUpdate{DataTypes: []model.DataType{model.DataTypeBloodPressure}})
			Expect(err).To(MatchError(service.ErrInvalidPreferences))

			five := int32(5)
			_, err = integrations.UpdatePreferences(h.ctx, "user-1", in.ID, service.PreferencesUpdate{SyncIntervalMinutes: &five})
			Expect(err).To(MatchError(service.ErrInvalidPreferences))
		})

		It("updates the cadence", func() {
			in := h.connect("user-1")
			interval := int32(240)
			updated, err := integrations.UpdatePreferences(h.ctx, "user-1", in.ID, service.PreferencesUpdate{SyncIntervalMinutes: &interval})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.SyncIntervalMinutes).To(Equal(int32(240)))
			Expect(updated.DataTypes).To(Equal(in.DataTypes))
		})
	})

	Describe("Disconnect", func() {
		It("clears tokens and pending jobs but keeps the record", func() {
			in := h.connect("user-1")
			_, err := h.services.Scheduler().Enqueue(h.ctx, scheduler.EnqueueRequest{UserID: "user-1", IntegrationID: in.ID, Trigger: model.SyncTriggerScheduled})
			Expect(err).NotTo(HaveOccurred())

			out, err := integrations.Disconnect(h.ctx, "user-1", in.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status).To(Equal(model.IntegrationStatusDisconnected))
			Expect(out.RefreshToken).To(BeNil())
			Expect(h.mem.AllJobs()).To(BeEmpty())

			list, err := integrations.List(h.ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
		})

		It("hides integrations of other users", func() {
			in := h.connect("user-1")
			_, err := integrations.Disconnect(h.ctx, "user-2", in.ID)
			Expect(err).To(MatchError(service.ErrIntegrationNotFound))
		})
	})

	Describe("jobs", func() {
		It("lists and cancels the caller's pending jobs only", func() {
			in := h.connect("user-1")
			job, err := h.services.Scheduler().Enqueue(h.ctx, scheduler.EnqueueRequest{UserID: "user-1", IntegrationID: in.ID, Trigger: model.SyncTriggerManual})
			Expect(err).NotTo(HaveOccurred())

			jobs, err := integrations.ListJobs(h.ctx, "user-1", in.ID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))

			Expect(integrations.CancelJob(h.ctx, "user-2", job.ID)).To(MatchError(scheduler.ErrJobNotFound))
			Expect(integrations.CancelJob(h.ctx, "user-1", job.ID)).To(Succeed())
			Expect(h.mem.AllJobs()).To(BeEmpty())
		})
	})
})
