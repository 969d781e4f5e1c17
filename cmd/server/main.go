package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/yadra-ai/workspace-gateway/internal/artifacts"
	"github.com/yadra-ai/workspace-gateway/internal/config"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/server"
	"github.com/yadra-ai/workspace-gateway/internal/store"
	"github.com/yadra-ai/workspace-gateway/internal/workspace"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	// Database is optional: without it the gateway serves the live
	// stream projection only.
	var records *artifacts.Storage
	if cfg.DatabaseURL != "" {
		db, err := artifacts.InitDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to initialize database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Minute)
		db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)

		records = artifacts.NewStorage(log, db)
	} else {
		log.Warn("DATABASE_URL not set, persisted artifact records disabled")
	}

	st := store.New(log)
	service := workspace.NewService(log, cfg, st, records)

	// NATS enables cross-instance stream cancellation.
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NatsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Error("failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer nc.Drain()
	} else {
		log.Warn("NATS_URL not set, distributed cancel disabled")
	}

	cancelSvc := workspace.NewDistributedCancelService(nc, service, log, logger.GetInstanceID())
	if cancelSvc != nil {
		if err := cancelSvc.Start(); err != nil {
			log.Error("failed to start distributed cancel service", slog.String("error", err.Error()))
			os.Exit(1)
		}
		service.SetDistributedCancel(cancelSvc)
	}

	// Artifact watcher pushes record changes to connected clients.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.DatabaseURL != "" {
		watcher := artifacts.NewWatcher(cfg.DatabaseURL, log, func(traceID string) {
			st.NotifyExternalChange()
		})
		if err := watcher.Start(watchCtx); err != nil {
			log.Error("failed to start artifact watcher", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sweeper := workspace.NewSweeper(service, records, cfg.StreamStallTimeout, log)
	if err := sweeper.Start(); err != nil {
		log.Error("failed to start sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := server.NewRouter(cfg, log, service)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info("workspace gateway listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	sweeper.Stop()
	service.Shutdown()
	if cancelSvc != nil {
		if err := cancelSvc.Stop(); err != nil {
			log.Warn("distributed cancel shutdown failed", slog.String("error", err.Error()))
		}
	}
	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("server exited")
}
