package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/cryptoad/cryptoad-api/internal/config"
	applog "github.com/cryptoad/cryptoad-api/internal/platform/logging"
	"github.com/cryptoad/cryptoad-api/internal/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

func main() {
	os.Exit(run(context.Background()))
}

// run returns the process exit code so deferred log flushing happens before exit.
func run(ctx context.Context) int {
	defer func() {
		// Sync on stdout reports EINVAL on some platforms; nothing to act on.
		_ = applog.Sync()
	}()
	if err := applog.Err(); err != nil {
		applog.LogError(ctx, "logger init error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		applog.LogError(ctx, "config load failed", err)
		return 1
	}
	if err := applog.SetLevel(cfg.LogLevel); err != nil {
		applog.LogWarn(ctx, "invalid log level, keeping info", zap.String("level", cfg.LogLevel), zap.Error(err))
	}

	if err := server.Run(ctx, cfg, Version, nil); err != nil {
		applog.LogError(ctx, "server failed", err, zap.String("addr", cfg.Addr()))
		return 1
	}
	return 0
}
