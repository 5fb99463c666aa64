// Package httpapi exposes the report service over HTTP: dataset snapshots,
// review edits, exports, access management and the websocket presence
// endpoint. Handlers return JSON; errors use the {"error": "..."} shape the
// frontend expects.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/audit"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/cache"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/presence"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/whitelist"
)

// Waker wakes the reconciliation loop after a local edit.
type Waker interface {
	Wake()
}

// Server holds the handler dependencies and registers the routes.
type Server struct {
	cache      *cache.Service
	dispatcher *cache.Dispatcher
	waker      Waker
	hub        *presence.Hub
	whitelist  *whitelist.Service
	audit      *audit.Log
	photos     *auth.PhotoCache
	oauth      *oauth2.Config
	secret     []byte
	admins     map[string]bool
	rpa        *rpaClient
	logger     *slog.Logger
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithAudit enables the admin audit trail endpoint.
func WithAudit(l *audit.Log) Option {
	return func(s *Server) { s.audit = l }
}

// WithRPA enables the admin endpoint that triggers the external RPA bot.
func WithRPA(webhookURL, token string) Option {
	return func(s *Server) { s.rpa = newRPAClient(webhookURL, token) }
}

// New assembles a Server. adminEmails are compared lowercase.
func New(
	c *cache.Service,
	d *cache.Dispatcher,
	waker Waker,
	hub *presence.Hub,
	wl *whitelist.Service,
	photos *auth.PhotoCache,
	oauthCfg *oauth2.Config,
	secret []byte,
	adminEmails []string,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		admins[strings.ToLower(e)] = true
	}
	s := &Server{
		cache:      c,
		dispatcher: d,
		waker:      waker,
		hub:        hub,
		whitelist:  wl,
		photos:     photos,
		oauth:      oauthCfg,
		secret:     secret,
		admins:     admins,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers all endpoints on r. The session middleware must already be
// installed by the caller (it also guards non-API pages).
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// OAuth pages. No session required.
	r.Get("/login", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Get("/api/me", s.handleMe)
		r.Get("/api/data", s.handleData)
		r.Post("/api/update", s.handleUpdate)
		r.Get("/api/version", s.handleVersion)
		r.Get("/api/export", s.handleExportExcel)
		r.Get("/api/export/pdf", s.handleExportPDF)
		r.Get("/ws", s.handleWS)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleAddUser)
			r.Delete("/users/{itemID}", s.handleRemoveUser)
			if s.audit != nil {
				r.Get("/audit", s.handleAudit)
			}
			if s.rpa != nil {
				r.Post("/rpa/run", s.handleRPARun)
			}
		})
	})
}

func (s *Server) isAdmin(email string) bool {
	return s.admins[strings.ToLower(email)]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
