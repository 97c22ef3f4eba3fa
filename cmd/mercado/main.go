package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dukerupert/mercado/internal/assistant"
	"github.com/dukerupert/mercado/internal/backup"
	"github.com/dukerupert/mercado/internal/config"
	"github.com/dukerupert/mercado/internal/database"
	"github.com/dukerupert/mercado/internal/logging"
	"github.com/dukerupert/mercado/internal/persist"
	"github.com/dukerupert/mercado/internal/server"
	"github.com/dukerupert/mercado/internal/state"
	"github.com/dukerupert/mercado/internal/store"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (default: ./.env when present)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// State must be loaded before anything can save it.
	adapter := persist.New(store.NewKVStore(db), cfg.StateKey, cfg.DefaultBudget, logger.With("component", "persist"))
	initial, err := adapter.Load(context.Background())
	if err != nil {
		slog.Error("failed to load state", "error", err)
		os.Exit(1)
	}
	st := state.New(initial, state.WithLocation(loc))

	saver := persist.NewSaver(adapter, cfg.SaveDebounce, logger.With("component", "saver"))
	st.OnChange(saver.Enqueue)

	ai := assistant.NewClient(assistant.Config{
		APIKey:  cfg.Assistant.APIKey,
		Model:   cfg.Assistant.Model,
		BaseURL: cfg.Assistant.BaseURL,
		Timeout: cfg.Assistant.Timeout,
	}, logger.With("component", "gemini"))
	if cfg.Assistant.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, list generation disabled")
	}

	srv := server.New(db, st, ai, server.Config{
		AssistantTimeout:   cfg.Assistant.Timeout,
		AssistantRateLimit: cfg.Assistant.RateLimit,
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.Backup.Endpoint,
				Bucket:    cfg.Backup.Bucket,
				Region:    cfg.Backup.Region,
				AccessKey: cfg.Backup.AccessKey,
				SecretKey: cfg.Backup.SecretKey,
			},
			Passphrase:    cfg.Backup.Passphrase,
			Schedule:      cfg.Backup.Schedule,
			RetentionDays: cfg.Backup.RetentionDays,
			DefaultBudget: cfg.DefaultBudget,
			Location:      loc,
		},
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		saver.Run(bgCtx)
	}()

	if err := srv.BackupManager().Start(bgCtx); err != nil {
		slog.Error("failed to start backup schedule", "error", err)
		os.Exit(1)
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("mercado starting", "addr", cfg.Addr(), "db", cfg.DBPath, "timezone", loc.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	srv.BackupManager().Stop()
	// Cancelling the saver flushes the last pending state.
	bgCancel()
	wg.Wait()
}
