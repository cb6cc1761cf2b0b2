// Package guard decides, before a view runs, whether the browser may see it.
package guard

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/metrics"
	"github.com/marcogenualdo/sso-child/internal/routes"
	"github.com/marcogenualdo/sso-child/internal/session"
)

type Guard struct {
	denial  DenialPolicy
	expired http.Handler
	logger  *slog.Logger
}

// New builds a Guard. expired answers a navigation whose stored token could
// not be resolved to a user; nil answers with a bare 401.
func New(denial DenialPolicy, expired http.Handler, logger *slog.Logger) *Guard {
	if expired == nil {
		expired = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Session expired", http.StatusUnauthorized)
		})
	}

	return &Guard{
		denial:  denial,
		expired: expired,
		logger:  logger,
	}
}

// Protect returns the middleware guarding route. It expects a session
// Manager in the request context.
func (g *Guard) Protect(route routes.Resolved) func(http.Handler) http.Handler {
	requiresAuth := route.RequiresAuth || route.Path == "/"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route.Open {
				metrics.RecordGuardDecision("open")
				next.ServeHTTP(w, r)
				return
			}

			m, ok := session.FromContext(r.Context())
			if !ok {
				g.logger.Error("no session attached to request", "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if requiresAuth && !m.HasToken() {
				redirect, err := m.Login(r.Context())
				if err != nil {
					g.logger.Error("failed to start sign-in", "path", r.URL.Path, "error", err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}

				g.logger.Debug("no session, redirecting to provider", "path", r.URL.Path)
				metrics.RecordGuardDecision("login")
				redirect.Write(w, r)
				return
			}

			if m.HasToken() {
				if !m.Ready() {
					if err := m.FetchUser(r.Context()); err != nil {
						g.logger.Info("session could not be resolved", "path", r.URL.Path, "error", err)
						metrics.RecordGuardDecision("abort")
						g.expired.ServeHTTP(w, r)
						return
					}
				}

				for _, req := range route.Requirements {
					if satisfied(m, req) {
						continue
					}

					g.logger.Warn("access denied",
						"path", r.URL.Path,
						"requirement", req.String(),
					)
					metrics.RecordGuardDecision("deny")
					g.denial.Deny(w, r, route, req)
					return
				}
			}

			metrics.RecordGuardDecision("allow")
			next.ServeHTTP(w, r)
		})
	}
}

func satisfied(m *session.Manager, req routes.Requirement) bool {
	switch req.Kind {
	case routes.KindPermission:
		return m.Can(req.Value)
	case routes.KindRole:
		return m.HasRole(req.Value)
	default:
		return false
	}
}
