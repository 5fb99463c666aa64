// Entry point for the IPS/MTESS report service: SharePoint-backed dataset
// cache, reconciliation loop, websocket presence and the HTTP API.
package main

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/audit"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/cache"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dbopen"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/graph"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/httpapi"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/monitor"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/presence"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/shield"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/versionstore"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/whitelist"
)

func main() {
	port := env("PORT", "8080")
	logLevel := env("LOG_LEVEL", "info")

	secretInput := os.Getenv("SESSION_SECRET")
	if secretInput == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	// Derive a 32-byte JWT secret via SHA-256 regardless of input length.
	secretHash := sha256.Sum256([]byte(secretInput))
	jwtSecret := secretHash[:]

	tenantID := mustEnv("TENANT_ID")
	clientID := mustEnv("CLIENT_ID")
	clientSecret := mustEnv("CLIENT_SECRET")
	siteURL := mustEnv("SITE_URL")
	redirectURL := env("OAUTH_REDIRECT_URL", "http://localhost:"+port+"/auth/callback")
	adminEmails := splitList(env("ADMIN_EMAILS", ""))
	allowedDomain := env("ALLOWED_DOMAIN", "")
	versionFile := env("VERSION_FILE", "version.json")
	auditPath := env("AUDIT_DB", "db/auditoria.db")
	auditRetentionDays, _ := strconv.Atoi(env("AUDIT_RETENTION_DAYS", "90"))
	mappingFile := env("MAPPING_FILE", "")
	staticDir := env("STATIC_DIR", "static")
	rpaURL := env("RPA_WEBHOOK_URL", "")
	rpaToken := env("RPA_TOKEN", "")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Column mapping, optionally overridden from YAML.
	registry := dataset.DefaultRegistry()
	if mappingFile != "" {
		var err error
		registry, err = dataset.LoadRegistry(mappingFile)
		if err != nil {
			slog.Error("load mapping", "error", err)
			os.Exit(1)
		}
	}

	// SharePoint client (app-only credentials).
	graphClient := graph.New(graph.Config{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		SiteURL:      siteURL,
	}, registry, logger)

	// Audit DB holds the edit log plus the shield tables.
	auditDB, err := dbopen.Open(auditPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("audit db", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()
	if err := shield.Init(auditDB); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}
	auditLog, err := audit.New(auditDB, logger)
	if err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}

	// Cache and reconciliation loop. The loop is created after the cache, so
	// the wake hook goes through a late-bound pointer.
	store := versionstore.New(versionFile, logger)
	var mon *monitor.Loop
	cacheSvc := cache.New(graphClient, store, logger,
		cache.WithRecorder(auditLog),
		cache.WithWake(func() {
			if mon != nil {
				mon.Wake()
			}
		}),
	)
	hub := presence.NewHub(logger)
	mon = monitor.New(cacheSvc, store, hub, logger)

	dispatcher := cache.NewDispatcher(graphClient, logger)
	wl := whitelist.New(graphClient, allowedDomain, logger)
	photos := auth.NewPhotoCache()
	oauthCfg := auth.NewMicrosoftProvider(auth.OAuthConfig{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	})

	apiOpts := []httpapi.Option{httpapi.WithAudit(auditLog)}
	if rpaURL != "" {
		apiOpts = append(apiOpts, httpapi.WithRPA(rpaURL, rpaToken))
	}
	api := httpapi.New(cacheSvc, dispatcher, mon, hub, wl, photos, oauthCfg,
		jwtSecret, adminEmails, logger, apiOpts...)

	// Router.
	r := chi.NewRouter()
	stack, mm := shield.DefaultStack(auditDB)
	for _, mw := range stack {
		r.Use(mw)
	}
	mm.StartReloader(ctx.Done())
	r.Use(auth.Middleware(jwtSecret))

	api.Routes(r)

	// SPA shell. The login page lives at /login; everything else needs a
	// session.
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if auth.FromContext(req.Context()) == nil {
			http.Redirect(w, req, "/login", http.StatusFound)
			return
		}
		http.ServeFile(w, req, filepath.Join(staticDir, "index.html"))
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// Reconciliation loop.
	go mon.Run(ctx)

	// Audit retention: prune once at startup, then daily.
	go func() {
		retention := time.Duration(auditRetentionDays) * 24 * time.Hour
		if _, err := auditLog.Cleanup(ctx, retention); err != nil {
			slog.Warn("audit cleanup", "error", err)
		}
		tick := time.NewTicker(24 * time.Hour)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if _, err := auditLog.Cleanup(ctx, retention); err != nil {
					slog.Warn("audit cleanup", "error", err)
				}
			}
		}
	}()

	// Warm both dataset caches in the background so the first page load
	// doesn't block on SharePoint.
	go func() {
		for _, id := range dataset.All() {
			if _, err := cacheSvc.RefreshFromRemote(ctx, id); err != nil {
				slog.Warn("initial fetch", "dataset", id, "error", err)
			}
		}
	}()

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("missing required environment variable", "key", key)
		os.Exit(1)
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
