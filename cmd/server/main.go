package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/handler"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/middleware"
	"github.com/draftsend/draftsend/internal/repository"
	"github.com/draftsend/draftsend/internal/router"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Str("provider", cfg.Email.Provider).Msg("starting draftsend server")

	// Connect to PostgreSQL for run history
	var (
		db   *database.Postgres
		runs service.RunStore
		repo *repository.RunRepository
	)
	if cfg.Database.Enabled {
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		repo = repository.NewRunRepository(db)
		runs = repo
		log.Info().Msg("connected to PostgreSQL")
	}

	// Connect to Redis for sessions, progress and rate limiting
	var (
		rdb      *database.Redis
		sessions *service.SessionStore
		progress *service.ProgressPublisher
		sink     service.ProgressSink
		loader   middleware.SessionLoader
	)
	if cfg.Redis.Enabled {
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		progress = service.NewProgressPublisher(rdb, cfg.Dispatch.RunRetention)
		sink = progress
		log.Info().Msg("connected to Redis")
	}

	authCfg := auth.Config{
		Provider:     cfg.Auth.Provider,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Tenant:       cfg.Auth.Tenant,
		RedirectURL:  cfg.Auth.RedirectURL,
	}

	sendSvc := service.NewSendService(cfg, service.NewTransportFactory(cfg), runs, sink, log)

	// Browser sign-in keeps one credential per session. Every other flow
	// signs in once at startup and the credential serves all requests.
	var flow *auth.AuthCodeFlow
	if cfg.Auth.Flow == auth.FlowAuthCode {
		if rdb == nil {
			log.Fatal().Msg("the auth_code flow requires redis.enabled")
		}
		flow, err = auth.NewAuthCodeFlow(authCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize sign-in")
		}
		sessions = service.NewSessionStore(rdb, cfg.Auth.SessionTTL)
		loader = sessions
	} else if service.NeedsCredential(cfg) {
		cred, err := signIn(cfg, authCfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to sign in")
		}
		sendSvc.WithCredential(cred)
	}

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, sendSvc, sessions, progress, flow)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	window, err := time.ParseDuration(cfg.RateLimiting.DefaultWindow)
	if err != nil {
		window = time.Minute
	}
	r := router.New(h, mw, loader, cfg.RateLimiting.RunLimit, window)

	// Create HTTP server. No write timeout: run event streams stay open.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if repo != nil && cfg.Database.HistoryRetention > 0 {
		go pruneHistory(ctx, repo, cfg.Database.HistoryRetention, log)
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Active runs stop at their next batch boundary.
	if err := sendSvc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("runs did not stop in time")
	}

	log.Info().Msg("server stopped")
}

// signIn acquires the server-wide credential for non-browser flows
func signIn(cfg *config.Config, authCfg auth.Config, log *logger.Logger) (*auth.Credential, error) {
	creds := auth.AppPassword{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
	authenticator, err := auth.NewAuthenticator(cfg.Auth.Flow, authCfg, creds, cfg.Auth.AccessToken, func(p auth.DevicePrompt) {
		log.Warn().
			Str("user_code", p.UserCode).
			Str("verification_url", p.VerificationURL).
			Time("expires_at", p.ExpiresAt).
			Msg("sign in to finish starting the server")
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	cred, err := authenticator.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	event := log.Info().Str("account", cred.Account).Str("flow", cfg.Auth.Flow)
	if !cred.Expiry.IsZero() {
		// Runs are refused with credential_expired after this until a restart.
		event = event.Time("expires_at", cred.Expiry)
	}
	event.Msg("signed in")
	return cred, nil
}

// pruneHistory removes finished runs older than retention once an hour
func pruneHistory(ctx context.Context, repo *repository.RunRepository, retention time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune run history")
		} else if n > 0 {
			log.Info().Int64("runs", n).Msg("pruned run history")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
