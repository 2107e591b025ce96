package router

import (
	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/http/handler"
)

func WebhookRouter(rg *gin.RouterGroup, h *handler.WebhookHandler) {
	rg.GET("/:provider", h.Verify)
	rg.POST("/:provider", h.Receive)
}
