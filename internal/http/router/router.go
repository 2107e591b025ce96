package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/http/handler"
	"healthbridge.app/syncer/internal/http/middleware"
	"healthbridge.app/syncer/internal/service"
)

type RouterConfig struct {
	DashboardURL string
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	oauthHandler := handler.NewOAuthHandler(services.Integrations(), cfg.DashboardURL)
	OAuthRouter(router.Group("/oauth"), oauthHandler)

	webhookHandler := handler.NewWebhookHandler(services.Webhooks())
	WebhookRouter(router.Group("/webhooks"), webhookHandler)

	v1 := router.Group("/api/v1")
	{
		schemaHandler := handler.NewSchemaHandler()
		v1.GET("/schema/data-point", schemaHandler.DataPoint)

		authed := v1.Group("", middleware.RequireUser())
		integrationHandler := handler.NewIntegrationHandler(services.Integrations(), services.Sync())
		IntegrationRouter(authed, integrationHandler)
	}
}
