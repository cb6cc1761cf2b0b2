package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/sso-child/internal/cache"
	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/marcogenualdo/sso-child/pkg/security"
)

type Server struct {
	cfg        *config.Config
	cache      cache.Cache
	identity   *identity.Client
	jars       storage.Provider
	logger     *slog.Logger
	httpServer *http.Server

	// stop ends background work such as rate limiter cleanup.
	stop context.CancelFunc
}

// New builds the server and its identity client. With a configured issuer the
// provider endpoints are discovered here, so ctx bounds that request.
func New(ctx context.Context, cfg *config.Config, c cache.Cache, logger *slog.Logger) (*Server, error) {
	client, err := identity.New(ctx, cfg, c, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	hashKey, blockKey, generated, err := security.CookieKeys(cfg.Server.HashKey, cfg.Server.BlockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load cookie keys: %w", err)
	}
	if generated {
		logger.Warn("using generated cookie keys, sessions will not survive a restart")
	}

	return &Server{
		cfg:      cfg,
		cache:    c,
		identity: client,
		jars:     storage.NewCookieProvider(cfg.Server, hashKey, blockKey, logger),
		logger:   logger,
	}, nil
}

func (s *Server) Start() error {
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop

	router, err := s.setupRoutes(ctx)
	if err != nil {
		stop()
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.Backend.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"base_url", s.cfg.Server.BaseURL,
			"provider", s.cfg.Provider.BaseURL,
			"backend", s.cfg.Backend.URL,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		stop()
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if s.stop != nil {
		s.stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Error("error closing cache", "error", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}
