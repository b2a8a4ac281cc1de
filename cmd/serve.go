package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hvdberg/spotlink/internal/repositories"
	"github.com/hvdberg/spotlink/internal/server"
	"github.com/hvdberg/spotlink/internal/services"
	sessionstore "github.com/hvdberg/spotlink/internal/sessions"
	"github.com/hvdberg/spotlink/internal/shared"
	"github.com/urfave/cli/v3"
)

const (
	shutdownTimeout = 5 * time.Second
	cleanupInterval = time.Hour
)

// Serve starts the account-linking HTTP service and blocks until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("verbose") {
		r.logger.SetLevel(log.DebugLevel)
	}

	config := r.loadConfig(cmd.String("config"))

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth jwt_secret", shared.ErrMissingCredentials)
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	auth, err := services.NewSpotifyAuthService(config.Credentials.Spotify)
	if err != nil {
		return fmt.Errorf("failed to create spotify service: %w", err)
	}

	store, err := sessionstore.NewStore(db, config.Session)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	repo := repositories.NewCredentialRepository(db)
	linker := services.NewLinker(auth, repo, r.logger)
	spotify := server.NewSpotifyHandler(linker, store, config.Session.Name, config.Frontend.URL, r.logger)

	router := server.NewBasicRouter()
	router.Use(
		server.RequestLogger(r.logger),
		server.Throttle(config.Server.RateLimitRPS, config.Server.RateLimitBurst),
	)

	router.Handler(&server.HealthHandler{})

	// The callback arrives as a cross-site redirect and the refresh route is
	// service-to-service, so only the user-facing routes carry bearer auth.
	authn := server.Authenticate([]byte(config.Auth.JWTSecret))
	router.Handle(http.MethodGet, "/spotify/auth-url", authn(http.HandlerFunc(spotify.AuthURL)))
	router.Handle(http.MethodGet, "/spotify/callback", http.HandlerFunc(spotify.Callback))
	router.Handle(http.MethodGet, "/spotify/token", authn(http.HandlerFunc(spotify.Token)))
	router.Handle(http.MethodGet, "/spotify/check", authn(http.HandlerFunc(spotify.Check)))
	router.Handle(http.MethodPost, "/spotify/refresh", http.HandlerFunc(spotify.Refresh))
	router.Handle(http.MethodDelete, "/spotify/link", authn(http.HandlerFunc(spotify.Unlink)))

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go r.cleanupSessions(ctx, store)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	r.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// cleanupSessions periodically removes expired session rows until the context
// is cancelled.
func (r *Runner) cleanupSessions(ctx context.Context, store *sessionstore.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Cleanup()
			if err != nil {
				r.logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				r.logger.Debug("expired sessions removed", "count", removed)
			}
		}
	}
}
