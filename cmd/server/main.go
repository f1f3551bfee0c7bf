package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agjmills/nimbus/internal/auth"
	"github.com/agjmills/nimbus/internal/config"
	"github.com/agjmills/nimbus/internal/database"
	"github.com/agjmills/nimbus/internal/drive"
	"github.com/agjmills/nimbus/internal/logger"
	"github.com/agjmills/nimbus/internal/routes"
	"github.com/agjmills/nimbus/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Env)

	logger.Info("configuration loaded",
		"max_upload_mb", float64(cfg.MaxUploadSize)/(1024*1024),
		"default_quota_gb", float64(cfg.DefaultUserQuota)/(1024*1024*1024),
		"storage_backend", cfg.StorageBackend,
		"env", cfg.Env,
	)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.Open(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	sessionManager, err := auth.NewSessionManager(db, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}

	svc := drive.NewService(db, store, drive.OptionsFromConfig(cfg))
	svc.StartCleanupWorker(
		time.Duration(cfg.DeletedCleanupIntervalMin)*time.Minute,
		time.Duration(cfg.DeletedRetentionDays)*24*time.Hour,
	)

	versionInfo := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.Handler(db, cfg, store, sessionManager, svc, versionInfo),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting nimbus server",
			"address", addr,
			"environment", cfg.Env,
			"version", versionInfo,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	svc.Shutdown()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("server stopped")
}
