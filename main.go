package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytget/mediarelay/internal/api"
	"github.com/ytget/mediarelay/internal/app"
	"github.com/ytget/mediarelay/internal/config"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		slog.Error("failed to load config", logging.Err(err))
		os.Exit(1)
	}

	log := logging.Setup(cfg.Env)
	slog.SetDefault(log)
	log.Info("media relay starting",
		slog.String("version", version),
		slog.String("env", cfg.Env),
		slog.String("address", cfg.HTTP.Address),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("fatal error, service shutdown", logging.Err(err))
		os.Exit(1)
	}
	relay.Service.SetUpdateCallback(func(snap model.JobSnapshot) {
		log.Debug("job updated",
			slog.String("job_id", snap.ID),
			slog.String("stage", snap.Stage.String()),
		)
	})

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewRouter(relay.Service, cfg.AllowTranscode, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", logging.Err(err))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", logging.Err(err))
	}
	if err := relay.Close(shutdownCtx); err != nil {
		log.Warn("relay shutdown", logging.Err(err))
	}
	log.Info("media relay stopped")
	os.Exit(exitCode)
}
