package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/http/dto"
	"healthbridge.app/syncer/internal/http/middleware"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/service"
)

type IntegrationHandler struct {
	integrations service.IntegrationService
	sync         service.SyncService
}

func NewIntegrationHandler(integrations service.IntegrationService, sync service.SyncService) *IntegrationHandler {
	return &IntegrationHandler{integrations: integrations, sync: sync}
}

func (h *IntegrationHandler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AuthorizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}

	auth, err := h.integrations.Authorize(ctx, middleware.GetUserID(c), model.Provider(c.Param("id")), req.Scopes, req.RedirectTarget)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AuthorizeResponse{
		AuthURL:   auth.AuthURL,
		State:     auth.State,
		ExpiresAt: auth.ExpiresAt,
	})
}

func (h *IntegrationHandler) List(c *gin.Context) {
	integrations, err := h.integrations.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToIntegrationResponses(integrations))
}

func (h *IntegrationHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	integration, err := h.integrations.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToIntegrationResponse(integration))
}

func (h *IntegrationHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req dto.UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	integration, err := h.integrations.UpdatePreferences(c.Request.Context(), middleware.GetUserID(c), id, service.PreferencesUpdate{
		DataTypes:           req.DataTypes,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToIntegrationResponse(integration))
}

func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	integration, err := h.integrations.Disconnect(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToIntegrationResponse(integration))
}

// Sync runs a sync inline. Provider failures come back in the body with 200;
// only requests that cannot run at all get an error status.
func (h *IntegrationHandler) Sync(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req dto.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}

	outcome, err := h.sync.SyncNow(c.Request.Context(), middleware.GetUserID(c), id, req.From, req.To)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToSyncResponse(outcome))
}

func (h *IntegrationHandler) ListJobs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var limit int32
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = int32(n)
	}

	jobs, err := h.integrations.ListJobs(c.Request.Context(), middleware.GetUserID(c), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToSyncJobResponses(jobs))
}

func (h *IntegrationHandler) CancelJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.integrations.CancelJob(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}
