package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/http/handler"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/service"
)

var _ = Describe("OAuthHandler", func() {
	var (
		router       *gin.Engine
		integrations *mockIntegrationService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		integrations = &mockIntegrationService{}
		h := handler.NewOAuthHandler(integrations, "https://app.example/integrations")
		router.GET("/oauth/:provider/callback", h.Callback)
	})

	callback := func(query string) *url.URL {
		req := httptest.NewRequest(http.MethodGet, "/oauth/fitbit/callback?"+query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusFound))
		loc, err := url.Parse(w.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		return loc
	}

	It("redirects to the stored target on success", func() {
		integrations.callbackFn = func(_ context.Context, p model.Provider, code, state string) (*service.Connection, error) {
			Expect(p).To(Equal(model.ProviderFitbit))
			Expect(code).To(Equal("abc"))
			Expect(state).To(Equal("s1"))
			return &service.Connection{
				Integration:    &model.Integration{ID: 42},
				RedirectTarget: "https://app.example/settings?tab=devices",
			}, nil
		}

		loc := callback("code=abc&state=s1")
		Expect(loc.Path).To(Equal("/settings"))
		Expect(loc.Query().Get("tab")).To(Equal("devices"))
		Expect(loc.Query().Get("status")).To(Equal("connected"))
		Expect(loc.Query().Get("integration_id")).To(Equal("42"))
	})

	It("reports replayed states as invalid_state", func() {
		integrations.callbackFn = func(context.Context, model.Provider, string, string) (*service.Connection, error) {
			return nil, &domain.InvalidStateError{}
		}
		loc := callback("code=abc&state=used")
		Expect(loc.Host).To(Equal("app.example"))
		Expect(loc.Query().Get("error")).To(Equal("invalid_state"))
		Expect(loc.Query().Has("status")).To(BeFalse())
	})

	It("reports expired states", func() {
		integrations.callbackFn = func(context.Context, model.Provider, string, string) (*service.Connection, error) {
			return nil, &domain.ExpiredStateError{}
		}
		Expect(callback("code=abc&state=old").Query().Get("error")).To(Equal("expired_state"))
	})

	It("passes through a provider denial without consuming the state", func() {
		called := false
		integrations.callbackFn = func(context.Context, model.Provider, string, string) (*service.Connection, error) {
			called = true
			return nil, nil
		}
		loc := callback("error=access_denied&state=s1")
		Expect(loc.Query().Get("error")).To(Equal("access_denied"))
		Expect(called).To(BeFalse())
	})

	It("rejects callbacks without a code", func() {
		Expect(callback("state=s1").Query().Get("error")).To(Equal("no_code"))
	})
})
