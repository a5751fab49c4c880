package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fclebinho/zefood.app.customer/cmd/zefood/internal/config"
	zlog "github.com/fclebinho/zefood.app.customer/log"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fatal("parsing flags failed", err)
	}

	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(config.GetLogHandler(cfg))
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	appCtx = zlog.ContextWithLogger(appCtx, logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		fatal("app init failed", err)
	}

	if err := app.Start(appCtx); err != nil {
		app.Shutdown()
		fatal("app start failed", err)
	}

	cli := zlog.WithComponent(appCtx, "cli")
	cli.Info("zefood client running",
		slog.String("api_url", cfg.APIBaseURL),
		slog.String("socket_url", cfg.SocketBaseURL))

	<-appCtx.Done()
	cli.Info("shutting down")
	app.Shutdown()
}
