package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkden-lab/casedesk/docs"
	"github.com/darkden-lab/casedesk/internal/audit"
	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/cases"
	"github.com/darkden-lab/casedesk/internal/config"
	"github.com/darkden-lab/casedesk/internal/httputil"
	mw "github.com/darkden-lab/casedesk/internal/middleware"
	"github.com/darkden-lab/casedesk/internal/notifications"
)

// Login attempts per IP, independent of the global API limit.
const (
	loginRPS   = 1
	loginBurst = 5
)

// app holds the wired components the router exposes.
type app struct {
	cfg         *config.Config
	streamCfg   notifications.StreamConfig
	jwtService  *auth.JWTService
	authService *auth.AuthService
	directory   notifications.RecipientDirectory
	registry    *notifications.Registry
	publisher   *notifications.Publisher
	cases       *cases.Service
	audit       *audit.Store
	ready       func(context.Context) error
}

func newRouter(a *app) http.Handler {
	r := mux.NewRouter()

	// Rate limiting per IP
	r.Use(mw.RateLimitMiddleware(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))

	// Health, readiness and metrics (no auth)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(a.ready)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API documentation (no auth)
	docs.RegisterRoutes(r)

	// Auth routes (no auth middleware, stricter limit)
	authHandlers := auth.NewHandlers(a.authService)
	login := r.NewRoute().Subrouter()
	login.Use(mw.StrictRateLimitMiddleware(loginRPS, loginBurst))
	authHandlers.RegisterRoutes(login)

	// Push subscriptions authenticate inside the handler: EventSource and
	// WebSocket clients pass the token as a query parameter.
	notifications.NewStreamHandler(a.jwtService, a.directory, a.registry, a.streamCfg).RegisterRoutes(r)
	notifications.NewWSHandler(a.jwtService, a.directory, a.registry, a.streamCfg, a.cfg.AllowedOrigins).RegisterRoutes(r)

	// Protected routes
	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(a.jwtService))
	if a.audit != nil {
		protected.Use(audit.Middleware(a.audit))
		audit.NewHandlers(a.audit).RegisterRoutes(protected)
	}

	authHandlers.RegisterProtectedRoutes(protected)
	notifications.NewHandlers(a.publisher, a.registry).RegisterRoutes(protected)
	if a.cases != nil {
		cases.NewHandlers(a.cases).RegisterRoutes(protected)
	}

	return mw.CORS(a.cfg.AllowedOrigins)(r)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyzHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				log.Printf("readiness check failed: %v", err)
				httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
