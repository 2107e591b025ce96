package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/service"
)

type OAuthHandler struct {
	integrations service.IntegrationService
	dashboardURL string
}

func NewOAuthHandler(integrations service.IntegrationService, dashboardURL string) *OAuthHandler {
	return &OAuthHandler{integrations: integrations, dashboardURL: dashboardURL}
}

// Callback finishes a connection and sends the browser back to the stored
// redirect target with either status=connected or error=<kind>.
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	p := model.Provider(c.Param("provider"))

	if errorParam := c.Query("error"); errorParam != "" {
		slog.WarnContext(ctx, "provider denied authorization",
			"provider", p,
			"error", errorParam,
			"description", c.Query("error_description"))
		h.redirect(c, h.dashboardURL, p, url.Values{"error": {errorParam}})
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if state == "" {
		h.redirect(c, h.dashboardURL, p, url.Values{"error": {"invalid_state"}})
		return
	}
	if code == "" {
		h.redirect(c, h.dashboardURL, p, url.Values{"error": {"no_code"}})
		return
	}

	conn, err := h.integrations.HandleCallback(ctx, p, code, state)
	if err != nil {
		slog.WarnContext(ctx, "oauth callback failed", "provider", p, "error", err)
		h.redirect(c, h.dashboardURL, p, url.Values{"error": {domain.Kind(err)}})
		return
	}

	target := conn.RedirectTarget
	if target == "" {
		target = h.dashboardURL
	}
	h.redirect(c, target, p, url.Values{
		"status":         {"connected"},
		"integration_id": {formatID(conn.Integration.ID)},
	})
}

func (h *OAuthHandler) redirect(c *gin.Context, target string, p model.Provider, params url.Values) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		c.JSON(http.StatusOK, gin.H{"provider": p, "result": params})
		return
	}
	q := u.Query()
	q.Set("provider", string(p))
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}
