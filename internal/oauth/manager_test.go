package oauth_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/lock"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/store/memory"
	"healthbridge.app/syncer/internal/vault"
)

var _ = Describe("Manager", func() {
	var (
		ctx          context.Context
		stores       *memory.Store
		clk          *clock.Fake
		v            *vault.Vault
		adapter      *fakeAdapter
		publisher    *recordingPublisher
		manager      *oauth.Manager
		tokenHandler http.HandlerFunc
		tokenCalls   atomic.Int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = memory.New()
		clk = clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
		publisher = &recordingPublisher{}
		tokenCalls.Store(0)

		var err error
		v, err = vault.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("m"), 32)))
		Expect(err).NotTo(HaveOccurred())

		tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":28800,"scope":"activity sleep"}`))
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenCalls.Add(1)
			tokenHandler(w, r)
		}))
		DeferCleanup(server.Close)

		adapter = &fakeAdapter{tokenURL: server.URL + "/oauth2/token", configured: true, pkce: true}
		manager = oauth.NewManager(oauth.Deps{
			Stores:   stores,
			Registry: provider.NewRegistry(adapter),
			Vault:    v,
			Security: publisher,
			Clock:    clk,
		}, oauth.Config{
			StateTTL:              10 * time.Minute,
			RefreshSkew:           2 * time.Minute,
			MaxRefreshFailures:    3,
			RefreshLockTTL:        time.Second,
			AllowedRedirectOrigin: "https://app.example",
		})
	})

	begin := func() *oauth.Authorization {
		auth, err := manager.BeginAuthorization(ctx, oauth.AuthorizationRequest{UserID: "user-1", Provider: model.ProviderFitbit})
		Expect(err).NotTo(HaveOccurred())
		return auth
	}

	Describe("BeginAuthorization", func() {
		It("builds a PKCE authorization URL", func() {
			auth := begin()
			u, err := url.Parse(auth.AuthURL)
			Expect(err).NotTo(HaveOccurred())
			q := u.Query()
			Expect(q.Get("response_type")).To(Equal("code"))
			Expect(q.Get("client_id")).To(Equal("client"))
			Expect(q.Get("state")).To(Equal(auth.State))
			Expect(q.Get("code_challenge")).NotTo(BeEmpty())
			Expect(q.Get("code_challenge_method")).To(Equal("S256"))
			Expect(q.Get("scope")).To(Equal("activity sleep"))
			Expect(auth.ExpiresAt).To(Equal(clk.Now().Add(10 * time.Minute)))
		})

		It("issues a distinct state per request", func() {
			Expect(begin().State).NotTo(Equal(begin().State))
		})

		It("fails with ConfigurationError without credentials", func() {
			adapter.configured = false
			_, err := manager.BeginAuthorization(ctx, oauth.AuthorizationRequest{UserID: "user-1", Provider: model.ProviderFitbit})
			var cfgErr *domain.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})

		It("rejects foreign redirect targets", func() {
			_, err := manager.BeginAuthorization(ctx, oauth.AuthorizationRequest{
				UserID:         "user-1",
				Provider:       model.ProviderFitbit,
				RedirectTarget: "https://evil.example/steal",
			})
			Expect(err).To(MatchError(oauth.ErrInvalidRedirectTarget))
		})
	})

	Describe("CompleteAuthorization", func() {
		It("exchanges the code with the verifier", func() {
			var form url.Values
			tokenHandler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.ParseForm()).To(Succeed())
				form = r.PostForm
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`))
			}

			auth := begin()
			completion, err := manager.CompleteAuthorization(ctx, "the-code", auth.State)
			Expect(err).NotTo(HaveOccurred())
			Expect(completion.UserID).To(Equal("user-1"))
			Expect(completion.Token.AccessToken).To(Equal("a"))
			Expect(completion.RedirectTarget).To(Equal("https://app.example"))
			Expect(form.Get("code")).To(Equal("the-code"))
			Expect(form.Get("code_verifier")).NotTo(BeEmpty())
		})

		It("fails with InvalidStateError for a state never issued", func() {
			_, err := manager.CompleteAuthorization(ctx, "code", "forged")
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(tokenCalls.Load()).To(BeZero())
			Expect(publisher.types()).To(ContainElement(queue.SecurityEventInvalidState))
		})

		It("succeeds at most once per state", func() {
			auth := begin()
			_, err := manager.CompleteAuthorization(ctx, "code", auth.State)
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.CompleteAuthorization(ctx, "code", auth.State)
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("fails with ExpiredStateError after ten minutes and deletes the state", func() {
			auth := begin()
			clk.Advance(11 * time.Minute)

			_, err := manager.CompleteAuthorization(ctx, "code", auth.State)
			var expired *domain.ExpiredStateError
			Expect(errors.As(err, &expired)).To(BeTrue())
			Expect(tokenCalls.Load()).To(BeZero())

			_, err = manager.CompleteAuthorization(ctx, "code", auth.State)
			var invalid *domain.InvalidStateError
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("wraps provider rejections in TokenExchangeError", func() {
			tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			}
			auth := begin()
			_, err := manager.CompleteAuthorization(ctx, "code", auth.State)
			var exch *domain.TokenExchangeError
			Expect(errors.As(err, &exch)).To(BeTrue())
		})
	})

	Describe("Refresh", func() {
		var integration *model.Integration

		BeforeEach(func() {
			access, _ := v.Encrypt("old-access")
			refresh, _ := v.EncryptOptional("old-refresh")
			expires := clk.Now().Add(-time.Minute)
			integration = &model.Integration{
				UserID:              "user-1",
				Provider:            model.ProviderFitbit,
				AccessToken:         access,
				RefreshToken:        refresh,
				TokenExpiresAt:      &expires,
				SyncIntervalMinutes: 360,
				CreatedAt:           clk.Now(),
			}
			Expect(stores.Integrations().UpsertConnected(ctx, integration)).To(Succeed())
		})

		It("stores the new tokens encrypted", func() {
			updated, err := manager.Refresh(ctx, integration.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.AccessToken).NotTo(ContainSubstring("new-access"))

			plain, err := v.Decrypt(updated.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(plain).To(Equal("new-access"))
			Expect(updated.RefreshFailures).To(BeZero())
			Expect(updated.TokenExpiresAt.After(clk.Now())).To(BeTrue())
		})

		It("requires reauthorization on invalid_grant and marks the integration error", func() {
			tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
			}

			_, err := manager.Refresh(ctx, integration.ID)
			var reauth *domain.ReauthorizationRequiredError
			Expect(errors.As(err, &reauth)).To(BeTrue())
			Expect(domain.IsTerminal(err)).To(BeTrue())

			stored, err := stores.Integrations().GetByID(ctx, integration.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.IntegrationStatusError))
			Expect(publisher.types()).To(ContainElement(queue.SecurityEventReauthRequired))
		})

		It("recognizes Fitbit's nested invalid_grant body", func() {
			tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errors":[{"errorType":"invalid_grant","message":"Refresh token invalid"}],"success":false}`))
			}
			_, err := manager.Refresh(ctx, integration.ID)
			var reauth *domain.ReauthorizationRequiredError
			Expect(errors.As(err, &reauth)).To(BeTrue())
		})

		It("counts transient failures and escalates at the limit", func() {
			tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"temporarily_unavailable"}`))
			}

			for attempt := 1; attempt < 3; attempt++ {
				_, err := manager.Refresh(ctx, integration.ID)
				var refreshErr *domain.TokenRefreshError
				Expect(errors.As(err, &refreshErr)).To(BeTrue())
				Expect(refreshErr.Attempts).To(Equal(attempt))
			}

			_, err := manager.Refresh(ctx, integration.ID)
			var reauth *domain.ReauthorizationRequiredError
			Expect(errors.As(err, &reauth)).To(BeTrue())
		})

		It("gives up on a hung token endpoint before the refresh lock expires", func() {
			tokenHandler = func(_ http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}

			started := time.Now()
			_, err := manager.Refresh(ctx, integration.ID)
			Expect(time.Since(started)).To(BeNumerically("<", time.Second))
			var refreshErr *domain.TokenRefreshError
			Expect(errors.As(err, &refreshErr)).To(BeTrue())

			stored, err := stores.Integrations().GetByID(ctx, integration.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.RefreshFailures).To(Equal(int32(1)))
		})

		It("refuses integrations that are not connected", func() {
			reason := "user revoked"
			_, err := stores.Integrations().Disconnect(ctx, integration.ID, &reason, clk.Now())
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.Refresh(ctx, integration.ID)
			var reauth *domain.ReauthorizationRequiredError
			Expect(errors.As(err, &reauth)).To(BeTrue())
			Expect(tokenCalls.Load()).To(BeZero())
		})
	})

	Describe("EnsureAccessToken", func() {
		var integration *model.Integration

		BeforeEach(func() {
			access, _ := v.Encrypt("current-access")
			refresh, _ := v.EncryptOptional("current-refresh")
			expires := clk.Now().Add(time.Hour)
			integration = &model.Integration{
				UserID:         "user-1",
				Provider:       model.ProviderFitbit,
				AccessToken:    access,
				RefreshToken:   refresh,
				TokenExpiresAt: &expires,
				CreatedAt:      clk.Now(),
			}
			Expect(stores.Integrations().UpsertConnected(ctx, integration)).To(Succeed())
		})

		It("returns the stored token when it validates", func() {
			token, err := manager.EnsureAccessToken(ctx, integration)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("current-access"))
			Expect(tokenCalls.Load()).To(BeZero())
		})

		It("refreshes inside the expiry skew", func() {
			clk.Advance(59 * time.Minute)
			token, err := manager.EnsureAccessToken(ctx, integration)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("new-access"))
			Expect(tokenCalls.Load()).To(Equal(int32(1)))
		})

		It("makes a single token request for concurrent callers in separate processes", func() {
			clk.Advance(59 * time.Minute)
			respond := tokenHandler
			tokenHandler = func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(50 * time.Millisecond)
				respond(w, r)
			}

			// Two managers sharing a store and a lock stand in for two worker processes.
			shared := lock.NewLocalLocker()
			newManager := func() *oauth.Manager {
				return oauth.NewManager(oauth.Deps{
					Stores:   stores,
					Registry: provider.NewRegistry(adapter),
					Vault:    v,
					Locker:   shared,
					Security: publisher,
					Clock:    clk,
				}, oauth.Config{RefreshSkew: 2 * time.Minute, RefreshLockTTL: time.Second})
			}
			managers := []*oauth.Manager{newManager(), newManager()}

			const callers = 8
			tokens := make([]string, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					snapshot := *integration
					if i%2 == 0 {
						tokens[i], errs[i] = managers[i%2].EnsureAccessToken(ctx, &snapshot)
					} else {
						tokens[i], errs[i] = managers[i%2].RefreshAccessToken(ctx, &snapshot)
					}
				}(i)
			}
			wg.Wait()

			for i := 0; i < callers; i++ {
				Expect(errs[i]).NotTo(HaveOccurred(), "caller %d", i)
				Expect(tokens[i]).To(Equal("new-access"), "caller %d", i)
			}
			Expect(tokenCalls.Load()).To(Equal(int32(1)))
		})

		It("refreshes when validation fails", func() {
			adapter.validateFn = func(token string) (bool, error) { return token != "current-access", nil }
			token, err := manager.EnsureAccessToken(ctx, integration)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("new-access"))
		})
	})

	It("sweeps expired states", func() {
		begin()
		begin()
		clk.Advance(15 * time.Minute)
		n, err := manager.CleanupExpiredStates(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})
})
