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

	"healthbridge.app/syncer/common/id"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/common/otel"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/app"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "syncer worker starting",
		"env", cfg.Env,
		"workers", cfg.Scheduler.Workers,
		"consumer_group", cfg.Redis.JobGroup,
		"consumer_name", cfg.Redis.Consumer)

	if cfg.UsesMemoryStore() {
		slog.ErrorContext(ctx, "the worker needs a shared store; the in-memory store only works inside the server")
		os.Exit(1)
	}

	// Use a different node ID than the server so snowflake IDs never collide.
	if err := id.Init(cfg.NodeID + 1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	background, err := application.StartBackground(runCtx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start workers", "error", err)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + cfg.Metrics.Port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.InfoContext(ctx, "metrics server starting", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "metrics server error", "error", err)
			}
		}()
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// Running jobs are allowed to finish up to the job liveness timeout.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.JobTimeout+10*time.Second)
	defer cancel()

	if err := background.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "worker shutdown incomplete, the reaper will reclaim unfinished jobs", "error", err)
	}
	cancelRun()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "metrics server shutdown error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
███████╗██╗   ██╗███╗   ██╗ ██████╗███████╗██████╗     ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝██╔════╝██╔══██╗    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
███████╗ ╚████╔╝ ██╔██╗ ██║██║     █████╗  ██████╔╝    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
╚════██║  ╚██╔╝  ██║╚██╗██║██║     ██╔══╝  ██╔══██╗    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
███████║   ██║   ██║ ╚████║╚██████╗███████╗██║  ██║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝╚══════╝╚═╝  ╚═╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
