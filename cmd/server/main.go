package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"healthbridge.app/syncer/common/id"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/common/otel"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/app"
	"healthbridge.app/syncer/internal/http/middleware"
	httprouter "healthbridge.app/syncer/internal/http/router"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "syncer server starting", "env", cfg.Env, "store", cfg.StoreBackend)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	runCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	// The in-memory store is private to this process, so it also runs the jobs.
	var background *app.Background
	if cfg.UsesMemoryStore() {
		background, err = application.StartBackground(runCtx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to start background processing", "error", err)
			os.Exit(1)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, application)
	// Manual syncs run inline, so writes may take up to the adapter timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Scheduler.AdapterTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if background != nil {
		if err := background.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "background shutdown error", "error", err)
		}
	}
	stopBackground()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, application *app.App) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(metrics.Middleware(application.Metrics))

	routerCfg := httprouter.RouterConfig{DashboardURL: cfg.DashboardURL}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = metrics.Handler()
	}
	httprouter.SetupRoutes(router, application.Services, routerCfg)

	return router
}

const banner = `
███████╗██╗   ██╗███╗   ██╗ ██████╗███████╗██████╗     ███████╗███████╗██████╗ ██╗   ██╗███████╗██████╗
██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝██╔════╝██╔══██╗    ██╔════╝██╔════╝██╔══██╗██║   ██║██╔════╝██╔══██╗
███████╗ ╚████╔╝ ██╔██╗ ██║██║     █████╗  ██████╔╝    ███████╗█████╗  ██████╔╝██║   ██║█████╗  ██████╔╝
╚════██║  ╚██╔╝  ██║╚██╗██║██║     ██╔══╝  ██╔══██╗    ╚════██║██╔══╝  ██╔══██╗╚██╗ ██╔╝██╔══╝  ██╔══██╗
███████║   ██║   ██║ ╚████║╚██████╗███████╗██║  ██║    ███████║███████╗██║  ██║ ╚████╔╝ ███████╗██║  ██║
╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝╚══════╝╚═╝  ╚═╝    ╚══════╝╚══════╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝
`
