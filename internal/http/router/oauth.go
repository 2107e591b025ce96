package router

import (
	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/http/handler"
)

func OAuthRouter(rg *gin.RouterGroup, h *handler.OAuthHandler) {
	rg.GET("/:provider/callback", h.Callback)
}
