package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pranavkale/lekha/internal/config"
	"github.com/pranavkale/lekha/internal/database"
	"github.com/pranavkale/lekha/internal/logging"
	"github.com/pranavkale/lekha/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := server.New(db, server.Config{
		BaseURL:              cfg.BaseURL,
		APITokenHash:         cfg.APITokenHash,
		StripeWebhookSecret:  cfg.StripeWebhookSecret,
		WebhookSigningSecret: cfg.WebhookSigningSecret,
		PartnerSecret:        cfg.PartnerSecret,
		PostmarkToken:        cfg.PostmarkToken,
		FromEmail:            cfg.FromEmail,
		Snapshot:             cfg.SnapshotConfig(),
	}, logger)

	if err := srv.LoadRules(); err != nil {
		log.Fatalf("failed to load rules: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if srv.SnapshotManager().Enabled() {
		srv.SnapshotManager().Start(ctx)
		defer srv.SnapshotManager().Stop()
	}

	// Evict idle rate limiter buckets in the background.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("lekha listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
