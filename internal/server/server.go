package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pranavkale/lekha/internal/dispatch"
	"github.com/pranavkale/lekha/internal/handler"
	"github.com/pranavkale/lekha/internal/ingest"
	"github.com/pranavkale/lekha/internal/ledger"
	"github.com/pranavkale/lekha/internal/middleware"
	"github.com/pranavkale/lekha/internal/notify"
	"github.com/pranavkale/lekha/internal/rules"
	"github.com/pranavkale/lekha/internal/snapshot"
	"github.com/pranavkale/lekha/internal/store"
	ws "github.com/pranavkale/lekha/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	service       *ledger.Service
	engine        *rules.Engine
	dispatcher    *dispatch.Dispatcher
	rewardH       *handler.RewardHandler
	ledgerH       *handler.LedgerHandler
	ruleH         *handler.RuleHandler
	eventH        *handler.EventHandler
	definitionH   *handler.DefinitionHandler
	userH         *handler.UserHandler
	snapshotH     *handler.SnapshotHandler
	ingestH       *ingest.Handler
	snapshotMgr   *snapshot.Manager
	rateLimiter   *middleware.RateLimiter
	apiTokenHash  string
	partnerSecret string
	logger        *slog.Logger
}

type Config struct {
	BaseURL              string
	APITokenHash         string
	StripeWebhookSecret  string
	WebhookSigningSecret string
	PartnerSecret        string
	PostmarkToken        string
	FromEmail            string
	Snapshot             snapshot.Config
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	eventStore := store.NewRewardEventStore(db)
	definitionStore := store.NewRewardDefinitionStore(db)
	ruleStore := store.NewRuleStore(db)

	service := ledger.NewService(db, logger.With("component", "ledger"))
	engine := rules.NewEngine(rules.NewRegistry(), logger.With("component", "rules"))

	notifier := notify.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	webhooks := dispatch.NewWebhookSender(cfg.WebhookSigningSecret)
	dispatcher := dispatch.NewDispatcher(engine, service, userStore, notifier, webhooks, hub,
		logger.With("component", "dispatch"))

	snapshotMgr := snapshot.NewManager(cfg.Snapshot, db, logger.With("component", "snapshot"))

	return &Server{
		db:            db,
		hub:           hub,
		service:       service,
		engine:        engine,
		dispatcher:    dispatcher,
		rewardH:       handler.NewRewardHandler(service, hub, logger.With("component", "reward")),
		ledgerH:       handler.NewLedgerHandler(service, logger.With("component", "ledger_api")),
		ruleH:         handler.NewRuleHandler(engine, ruleStore, logger.With("component", "rule")),
		eventH:        handler.NewEventHandler(dispatcher, logger.With("component", "event")),
		definitionH:   handler.NewDefinitionHandler(definitionStore, logger.With("component", "definition")),
		userH:         handler.NewUserHandler(userStore, eventStore, logger.With("component", "user")),
		snapshotH:     handler.NewSnapshotHandler(snapshotMgr, logger.With("component", "snapshot_api")),
		ingestH:       ingest.NewHandler(cfg.StripeWebhookSecret, dispatcher, logger.With("component", "ingest")),
		snapshotMgr:   snapshotMgr,
		rateLimiter:   middleware.NewRateLimiter(),
		apiTokenHash:  cfg.APITokenHash,
		partnerSecret: cfg.PartnerSecret,
		logger:        logger,
	}
}

// LoadRules hydrates the rule engine from storage. Called once at startup,
// before the server starts accepting events.
func (s *Server) LoadRules() error {
	return s.ruleH.LoadRules()
}

// SnapshotManager returns the snapshot manager for lifecycle control.
func (s *Server) SnapshotManager() *snapshot.Manager {
	return s.snapshotMgr
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /webhooks/stripe", s.ingestH.HandleStripeWebhook)

	// Partner callback: event submission authenticated by a shared secret
	// header instead of the admin bearer token.
	if s.partnerSecret != "" {
		partnerAuth := middleware.RequireWebhookSignature(
			"X-Partner-Secret", s.partnerSecret, middleware.ConstantTimeEquals)
		outerMux.Handle("POST /webhooks/partner", partnerAuth(http.HandlerFunc(s.eventH.Dispatch)))
	}

	// Protected routes — wrapped with the API token middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAPIToken(s.apiTokenHash)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 60, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Event ingestion (rate-limited: callers are expected to batch, not spray)
	mux.HandleFunc("POST /api/events", s.rateLimitedHandler(s.eventH.Dispatch))

	// Reward lifecycle
	mux.HandleFunc("POST /api/rewards", s.rewardH.Create)
	mux.HandleFunc("GET /api/rewards/{id}", s.rewardH.Get)
	mux.HandleFunc("POST /api/rewards/{id}/confirm", s.rewardH.Confirm)
	mux.HandleFunc("POST /api/rewards/{id}/reverse", s.rewardH.Reverse)
	mux.HandleFunc("POST /api/rewards/{id}/pay", s.rewardH.Pay)
	mux.HandleFunc("POST /api/rewards/{id}/expire", s.rewardH.Expire)

	// Users, balances, entry history
	mux.HandleFunc("POST /api/users", s.userH.Create)
	mux.HandleFunc("GET /api/users/{id}", s.userH.Get)
	mux.HandleFunc("PUT /api/users/{id}/paid-status", s.userH.SetPaidStatus)
	mux.HandleFunc("GET /api/users/{id}/rewards", s.userH.ListRewards)
	mux.HandleFunc("GET /api/users/{id}/balance", s.ledgerH.GetBalance)
	mux.HandleFunc("GET /api/users/{id}/ledger", s.ledgerH.GetHistory)

	// Reward definitions
	mux.HandleFunc("POST /api/definitions", s.definitionH.Create)
	mux.HandleFunc("GET /api/definitions", s.definitionH.List)
	mux.HandleFunc("GET /api/definitions/{id}", s.definitionH.Get)
	mux.HandleFunc("PUT /api/definitions/{id}/active", s.definitionH.SetActive)

	// Rules
	mux.HandleFunc("POST /api/rules", s.ruleH.Save)
	mux.HandleFunc("PUT /api/rules/{id}", s.ruleH.Save)
	mux.HandleFunc("GET /api/rules", s.ruleH.List)
	mux.HandleFunc("GET /api/rules/{id}", s.ruleH.Get)
	mux.HandleFunc("DELETE /api/rules/{id}", s.ruleH.Delete)

	// Snapshots
	mux.HandleFunc("GET /api/snapshots", s.snapshotH.List)
	mux.HandleFunc("GET /api/snapshots/status", s.snapshotH.Status)
	mux.HandleFunc("POST /api/snapshots", s.snapshotH.RunNow)

	// WebSocket feed of reward lifecycle facts
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}
