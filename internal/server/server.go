package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mercado/internal/assistant"
	"github.com/dukerupert/mercado/internal/backup"
	"github.com/dukerupert/mercado/internal/handler"
	"github.com/dukerupert/mercado/internal/middleware"
	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/pwa"
	"github.com/dukerupert/mercado/internal/state"
	"github.com/dukerupert/mercado/internal/store"
	"github.com/dukerupert/mercado/internal/summary"
	ws "github.com/dukerupert/mercado/internal/websocket"
)

// Config holds the HTTP-facing settings of the server.
type Config struct {
	AssistantTimeout   time.Duration
	AssistantRateLimit int // requests per minute per client
	Backup             backup.Config
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	stateH        *handler.StateHandler
	assistantH    *handler.AssistantHandler
	backupH       *handler.BackupHandler
	installH      *handler.InstallHandler
	installer     *pwa.Installer
	backupManager *backup.Manager
	rateLimiter   *middleware.RateLimiter
	cfg           Config
	logger        *slog.Logger
}

func New(db *sql.DB, st *state.Store, ai assistant.Client, cfg Config, logger *slog.Logger) *Server {
	if cfg.AssistantRateLimit < 1 {
		cfg.AssistantRateLimit = 10
	}
	hub := ws.NewHub(logger.With("component", "websocket"), func() any { return st.Snapshot() })

	// Every applied mutation is announced so other open sessions refresh.
	st.OnChange(func(snap model.State) {
		hub.Publish("state", "changed", summary.ForState(snap))
	})

	backupMgr := backup.NewManager(cfg.Backup, store.NewBackupStore(db), st, logger.With("component", "backup"), func(s backup.Status) {
		hub.Publish("backup", string(s.State), s)
	})

	installer := pwa.NewInstaller(logger.With("component", "pwa"))
	installer.OnOutcome(func(o pwa.Outcome) {
		hub.Publish("install", string(o), nil)
	})

	return &Server{
		db:            db,
		hub:           hub,
		stateH:        handler.NewStateHandler(st, logger.With("component", "state")),
		assistantH:    handler.NewAssistantHandler(ai, st, cfg.AssistantTimeout, logger.With("component", "assistant")),
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		installH:      handler.NewInstallHandler(installer),
		installer:     installer,
		backupManager: backupMgr,
		rateLimiter:   middleware.NewRateLimiter(),
		cfg:           cfg,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Installability assets
	mux.HandleFunc("GET /manifest.webmanifest", pwa.ManifestHandler(pwa.DefaultManifest()))
	mux.HandleFunc("GET /sw.js", pwa.ServiceWorkerHandler())
	mux.HandleFunc("GET /offline", pwa.OfflineHandler)

	// State
	mux.HandleFunc("GET /api/state", s.stateH.GetState)
	mux.HandleFunc("GET /api/items", s.stateH.ListItems)
	mux.HandleFunc("POST /api/items", s.stateH.CreateItem)
	mux.HandleFunc("POST /api/items/bulk", s.stateH.CreateItems)
	mux.HandleFunc("PATCH /api/items/{id}", s.stateH.UpdateItem)
	mux.HandleFunc("DELETE /api/items/{id}", s.stateH.DeleteItem)
	mux.HandleFunc("POST /api/items/{id}/toggle", s.stateH.ToggleItem)
	mux.HandleFunc("POST /api/items/{id}/increment", s.stateH.IncrementItem)
	mux.HandleFunc("POST /api/items/{id}/decrement", s.stateH.DecrementItem)
	mux.HandleFunc("PUT /api/budget", s.stateH.UpdateBudget)
	mux.HandleFunc("POST /api/finish", s.stateH.FinishShopping)

	// History and derived views
	mux.HandleFunc("GET /api/history", s.stateH.ListHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.stateH.DeleteTrip)
	mux.HandleFunc("GET /api/history/monthly", s.stateH.Monthly)
	mux.HandleFunc("GET /api/summary", s.stateH.Summary)

	// Assistant
	mux.HandleFunc("POST /api/assistant/generate", s.rateLimitedHandler("assistant", s.assistantH.Generate))

	// Backups
	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.HandleFunc("POST /api/backups", s.rateLimitedHandler("backup", s.backupH.Create))
	mux.HandleFunc("POST /api/backups/{id}/restore", s.backupH.Restore)

	// Install affordance
	mux.HandleFunc("GET /api/install", s.installH.Status)
	mux.HandleFunc("POST /api/install/prompt", s.installH.Defer)
	mux.HandleFunc("POST /api/install/trigger", s.installH.Trigger)
	mux.HandleFunc("POST /api/install/outcome", s.installH.Outcome)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.Handler(s.hub, s.logger.With("component", "websocket")))

	return middleware.Chain(mux,
		middleware.Recoverer(s.logger.With("component", "http")),
		middleware.RequestLogger(s.logger.With("component", "http")),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.hub.ClientCount(), "seq": s.hub.Seq()})
}

func (s *Server) rateLimitedHandler(scope string, h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return scope + ":" + middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, s.cfg.AssistantRateLimit, time.Minute)
	wrapped := rl(h)
	return wrapped.ServeHTTP
}
