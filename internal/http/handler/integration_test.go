package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/http/handler"
	"healthbridge.app/syncer/internal/http/middleware"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/service"
)

var _ = Describe("IntegrationHandler", func() {
	var (
		router       *gin.Engine
		integrations *mockIntegrationService
		syncer       *mockSyncService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		integrations = &mockIntegrationService{}
		syncer = &mockSyncService{}
		h := handler.NewIntegrationHandler(integrations, syncer)

		api := router.Group("/api/v1", middleware.RequireUser())
		api.GET("/integrations", h.List)
		api.POST("/integrations/:id/authorize", h.Authorize)
		api.PATCH("/integrations/:id", h.Update)
		api.POST("/integrations/:id/sync", h.Sync)
		api.GET("/integrations/:id/jobs", h.ListJobs)
		api.DELETE("/sync-jobs/:id", h.CancelJob)
	})

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.UserIDHeader, "user-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("requires a caller identity", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("starts an authorization for the caller", func() {
		expires := time.Date(2024, 1, 2, 12, 10, 0, 0, time.UTC)
		integrations.authorizeFn = func(_ context.Context, userID string, p model.Provider, scopes []string, target string) (*oauth.Authorization, error) {
			Expect(userID).To(Equal("user-1"))
			Expect(p).To(Equal(model.ProviderFitbit))
			Expect(scopes).To(Equal([]string{"activity"}))
			Expect(target).To(Equal("https://app.example/settings"))
			return &oauth.Authorization{AuthURL: "https://www.fitbit.com/oauth2/authorize?state=s1", State: "s1", ExpiresAt: expires}, nil
		}

		w := do(http.MethodPost, "/api/v1/integrations/fitbit/authorize", map[string]any{
			"scopes":          []string{"activity"},
			"redirect_target": "https://app.example/settings",
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["auth_url"]).To(ContainSubstring("state=s1"))
		Expect(resp["state"]).To(Equal("s1"))
	})

	It("maps an unconfigured provider to 503", func() {
		integrations.authorizeFn = func(context.Context, string, model.Provider, []string, string) (*oauth.Authorization, error) {
			return nil, &domain.ConfigurationError{Provider: model.ProviderOura, Reason: "missing client id"}
		}
		w := do(http.MethodPost, "/api/v1/integrations/oura/authorize", nil)
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(w.Body.String()).To(ContainSubstring("configuration_error"))
	})

	It("never exposes tokens when listing", func() {
		integrations.listFn = func(context.Context, string) ([]model.Integration, error) {
			return []model.Integration{{
				ID:          42,
				UserID:      "user-1",
				Provider:    model.ProviderFitbit,
				Status:      model.IntegrationStatusConnected,
				AccessToken: "sealed-access",
			}}, nil
		}

		w := do(http.MethodGet, "/api/v1/integrations", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).NotTo(ContainSubstring("sealed-access"))
		Expect(w.Body.String()).To(ContainSubstring(`"id":"42"`))
	})

	It("rejects invalid preferences with 400", func() {
		integrations.updateFn = func(context.Context, string, int64, service.PreferencesUpdate) (*model.Integration, error) {
			return nil, fmt.Errorf("%w: interval too short", service.ErrInvalidPreferences)
		}
		w := do(http.MethodPatch, "/api/v1/integrations/42", map[string]any{"sync_interval_minutes": 5})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	Describe("manual sync", func() {
		It("passes the optional range through", func() {
			from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			last := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
			syncer.syncNowFn = func(_ context.Context, userID string, id int64, f, t *time.Time) (*service.SyncOutcome, error) {
				Expect(id).To(Equal(int64(42)))
				Expect(f).NotTo(BeNil())
				Expect(f.Equal(from)).To(BeTrue())
				Expect(t).To(BeNil())
				return &service.SyncOutcome{
					Success:          true,
					SyncedPointCount: 7,
					Errors:           []string{"sleep: provider returned status 500"},
					LastSyncTime:     &last,
					Status:           model.SyncStatusPartial,
				}, nil
			}

			w := do(http.MethodPost, "/api/v1/integrations/42/sync", map[string]any{"from": from})
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["success"]).To(BeTrue())
			Expect(resp["synced_point_count"]).To(BeEquivalentTo(7))
			Expect(resp["status"]).To(Equal("partial"))
			Expect(resp["errors"]).To(HaveLen(1))
		})

		It("returns 404 for another user's integration", func() {
			syncer.syncNowFn = func(context.Context, string, int64, *time.Time, *time.Time) (*service.SyncOutcome, error) {
				return nil, service.ErrIntegrationNotFound
			}
			Expect(do(http.MethodPost, "/api/v1/integrations/42/sync", nil).Code).To(Equal(http.StatusNotFound))
		})

		It("returns 424 when reauthorization is required", func() {
			syncer.syncNowFn = func(context.Context, string, int64, *time.Time, *time.Time) (*service.SyncOutcome, error) {
				return nil, domain.Terminal(&domain.ReauthorizationRequiredError{IntegrationID: 42, Provider: model.ProviderFitbit, Reason: "refresh token rejected"})
			}
			w := do(http.MethodPost, "/api/v1/integrations/42/sync", nil)
			Expect(w.Code).To(Equal(http.StatusFailedDependency))
			Expect(w.Body.String()).To(ContainSubstring("reauthorization_required"))
		})

		It("rejects a malformed id", func() {
			Expect(do(http.MethodPost, "/api/v1/integrations/abc/sync", nil).Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("jobs", func() {
		It("validates the limit", func() {
			Expect(do(http.MethodGet, "/api/v1/integrations/42/jobs?limit=-1", nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("lists jobs with the requested limit", func() {
			integrations.listJobsFn = func(_ context.Context, _ string, _ int64, limit int32) ([]model.SyncJob, error) {
				Expect(limit).To(Equal(int32(5)))
				return []model.SyncJob{{ID: 7, Status: model.SyncJobStatusPending, Trigger: model.SyncTriggerManual}}, nil
			}
			w := do(http.MethodGet, "/api/v1/integrations/42/jobs?limit=5", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"trigger":"manual"`))
		})

		It("reports running jobs as not cancellable", func() {
			integrations.cancelJobFn = func(context.Context, string, int64) error {
				return scheduler.ErrJobNotCancellable
			}
			Expect(do(http.MethodDelete, "/api/v1/sync-jobs/7", nil).Code).To(Equal(http.StatusConflict))
		})

		It("cancels pending jobs", func() {
			Expect(do(http.MethodDelete, "/api/v1/sync-jobs/7", nil).Code).To(Equal(http.StatusNoContent))
		})
	})
})
