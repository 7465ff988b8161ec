package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/auth"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/configsync"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/export"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/lock"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/promotion"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

type Deps struct {
	Store     Pinger
	Promotion *promotion.Service
	// Configs, Locks and Exports are optional; their routes answer 501
	// when unset.
	Configs *configsync.Service
	Locks   *lock.Mutex
	Exports *export.Exporter
	Auth    Authenticator

	WebhookSecret string
	WebhookSkew   time.Duration
	// AllowUnsignedWebhook accepts webhook calls without a signature when
	// no secret is configured. Local development only.
	AllowUnsignedWebhook bool

	Logger *log.Logger
	Now    func() time.Time
}

type Server struct {
	store     Pinger
	promotion *promotion.Service
	configs   *configsync.Service
	locks     *lock.Mutex
	exports   *export.Exporter
	auth      Authenticator

	webhookSecret string
	webhookSkew   time.Duration
	allowUnsigned bool
	logger        *log.Logger
	now           func() time.Time
}

func New(d Deps) *Server {
	s := &Server{
		store:         d.Store,
		promotion:     d.Promotion,
		configs:       d.Configs,
		locks:         d.Locks,
		exports:       d.Exports,
		auth:          d.Auth,
		webhookSecret: d.WebhookSecret,
		webhookSkew:   d.WebhookSkew,
		allowUnsigned: d.AllowUnsignedWebhook,
		logger:        d.Logger,
		now:           d.Now,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/ci", s.handleCIWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.operatorAuth)

		r.Post("/entities", s.handleCreateEntity)
		r.Route("/entities/{store}/{code}", func(r chi.Router) {
			r.Get("/", s.handleGetEntity)
			r.Delete("/", s.handleDeleteEntity)
			r.Get("/history", s.handleHistory)
			r.Patch("/draft", s.handleUpdateDraft)
			r.Post("/promote", s.handlePromote)
			r.Post("/validate", s.handleValidate)
			r.Post("/rollback", s.handleRollback)
		})

		r.Get("/configs/{name}", s.handleReadConfig)
		r.Post("/configs/{name}/push", s.handlePushConfig)
		r.Post("/configs/{name}/rollback", s.handleRollbackConfig)

		r.Get("/locks/{system}/{env}", s.handleLockStatus)

		r.Post("/exports/{store}", s.handleStartExport)
		r.Get("/exports/{store}", s.handleExportStatus)
		r.Delete("/exports/{store}", s.handleCompleteExport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": s.now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
