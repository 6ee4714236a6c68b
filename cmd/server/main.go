package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/darkden-lab/casedesk/internal/audit"
	"github.com/darkden-lab/casedesk/internal/auth"
	"github.com/darkden-lab/casedesk/internal/cases"
	"github.com/darkden-lab/casedesk/internal/config"
	"github.com/darkden-lab/casedesk/internal/db"
	"github.com/darkden-lab/casedesk/internal/notifications"
)

func main() {
	cfg := config.Load()

	streamCfg, err := streamConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid notification settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer database.Close()
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Printf("WARNING: migrations failed: %v", err)
	}

	// JWT & Auth
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	users := auth.NewUserStore(database.Pool)
	authService := auth.NewAuthService(users, jwtService)

	// Notification broker
	registry := notifications.NewRegistry()
	publisher := notifications.NewPublisher(registry)

	// Cases
	caseStore := cases.NewPGStore(database.Pool)
	caseService := cases.NewService(caseStore, users, publisher)
	sweeper := cases.NewOverdueSweeper(caseStore, users, publisher, cfg.OverdueSweepInterval)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(sweepCtx)
	}()

	handler := newRouter(&app{
		cfg:         cfg,
		streamCfg:   streamCfg,
		jwtService:  jwtService,
		authService: authService,
		directory:   users,
		registry:    registry,
		publisher:   publisher,
		cases:       caseService,
		audit:       audit.NewStore(database.Pool),
		ready:       database.Ping,
	})

	// WriteTimeout bounds ordinary responses; push streams clear it for
	// themselves and set a deadline per frame.
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        handler,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Printf("Starting server on :%s", cfg.Port)
	if err := runServer(ctx, srv, ln, registry); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	stopSweeper()
	<-sweepDone
	log.Println("Server stopped")
}

const shutdownTimeout = 10 * time.Second

// runServer runs srv on ln until ctx is cancelled, then shuts it down gracefully.
// It returns only after Shutdown has finished draining in-flight requests.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, registry *notifications.Registry) error {
	// Shutdown does not wait for hijacked or streaming connections to go
	// idle on their own; close every push session so their handlers return.
	srv.RegisterOnShutdown(func() {
		log.Printf("Closing %d notification sessions", registry.LiveCount())
		registry.CloseAll(notifications.ReasonShutdown)
	})

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func streamConfig(cfg *config.Config) (notifications.StreamConfig, error) {
	policy, err := notifications.ParseSupersedePolicy(cfg.SupersedePolicy)
	if err != nil {
		return notifications.StreamConfig{}, err
	}
	sc := notifications.DefaultStreamConfig()
	sc.HeartbeatInterval = cfg.HeartbeatInterval
	sc.WriteTimeout = cfg.StreamWriteTimeout
	sc.SupersedePolicy = policy
	if cfg.WelcomeMessage != "" {
		sc.WelcomeMessage = cfg.WelcomeMessage
	}
	return sc, nil
}
