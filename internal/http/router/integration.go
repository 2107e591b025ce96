package router

import (
	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/http/handler"
)

func IntegrationRouter(rg *gin.RouterGroup, h *handler.IntegrationHandler) {
	integrations := rg.Group("/integrations")
	{
		integrations.GET("", h.List)
		// The provider name shares the :id wildcard; gin allows one name per segment.
		integrations.POST("/:id/authorize", h.Authorize)
		integrations.GET("/:id", h.Get)
		integrations.PATCH("/:id", h.Update)
		integrations.DELETE("/:id", h.Disconnect)
		integrations.POST("/:id/sync", h.Sync)
		integrations.GET("/:id/jobs", h.ListJobs)
	}
	rg.DELETE("/sync-jobs/:id", h.CancelJob)
}
