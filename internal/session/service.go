package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/storage"
)

type contextKey string

const managerContextKey contextKey = "session"

// Service builds the Manager of each request's browser.
type Service struct {
	client         IdentityClient
	jars           storage.Provider
	superAdminRole string
	logger         *slog.Logger
}

func NewService(client IdentityClient, jars storage.Provider, superAdminRole string, logger *slog.Logger) *Service {
	return &Service{
		client:         client,
		jars:           jars,
		superAdminRole: superAdminRole,
		logger:         logger,
	}
}

func (s *Service) Manager(w http.ResponseWriter, r *http.Request) *Manager {
	return NewManager(s.client, s.jars.Jar(w, r), s.superAdminRole, s.logger)
}

// Attach puts the request's Manager into its context.
func (s *Service) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := s.Manager(w, r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), m)))
	})
}

func NewContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerContextKey, m)
}

func FromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerContextKey).(*Manager)
	return m, ok
}
