package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/core/db/migrations"
)

// migrate applies the embedded goose migrations. The command defaults to "up";
// any goose command ("down", "status", "redo", "version") may be given instead.
func main() {
	ctx := context.Background()
	flag.Parse()

	cfg, err := config.Load(config.ServiceTypeMigrate)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	command := "up"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	database, err := sql.Open("pgx", cfg.DB.DSN)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		slog.ErrorContext(ctx, "failed to set dialect", "error", err)
		os.Exit(1)
	}

	slog.InfoContext(ctx, "running migrations", "command", command)
	if err := goose.RunContext(ctx, command, database, ".", args...); err != nil {
		slog.ErrorContext(ctx, "migration failed", "command", command, "error", err)
		os.Exit(1)
	}

	version, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		slog.WarnContext(ctx, "could not read schema version", "error", err)
		return
	}
	slog.InfoContext(ctx, "migrations complete", "version", version)
}
