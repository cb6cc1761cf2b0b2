package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/guard"
	"github.com/marcogenualdo/sso-child/internal/handlers"
	"github.com/marcogenualdo/sso-child/internal/middleware"
	"github.com/marcogenualdo/sso-child/internal/proxy"
	"github.com/marcogenualdo/sso-child/internal/routes"
	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/internal/transport"
)

// setupRoutes builds the application handler. ctx bounds background work
// started for it.
func (s *Server) setupRoutes(ctx context.Context) (http.Handler, error) {
	backendClient := &http.Client{
		Timeout:   s.cfg.Backend.Timeout,
		Transport: transport.New(nil, s.cfg.Backend.LoginPathMarker, s.logger),
	}
	api := backend.New(s.cfg.Backend.URL, backendClient)

	sessions := session.NewService(s.identity, s.jars, s.cfg.Authorization.SuperAdminRole, s.logger)
	g := guard.New(guard.NewDenialPolicy(s.cfg), handlers.SessionExpired(), s.logger)

	resolved, err := routes.Flatten(s.routeTree(api))
	if err != nil {
		return nil, fmt.Errorf("invalid route tree: %w", err)
	}

	reverseProxy, err := proxy.NewReverseProxy(s.cfg.Backend, s.cfg.Server.CookieName, backendClient.Transport, s.logger)
	if err != nil {
		return nil, err
	}

	proxies, err := s.cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewRateLimiter(ctx, s.cfg.RateLimit.RequestsPerSecond, s.cfg.RateLimit.Burst, s.cfg.RateLimit.Cleanup, proxies)
	csrf := middleware.NewCSRFMiddleware(s.logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recovery(s.logger),
		middleware.Logging(s.logger),
		middleware.SecurityHeaders,
	)

	r.Get("/health", handlers.NewHealthHandler(s.cfg, s.cache, api, s.logger).ServeHTTP)
	if *s.cfg.Metrics.Enable {
		r.Handle(s.cfg.Metrics.Path, promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(sessions.Attach)

		r.With(limiter.Middleware, csrf.ValidateCSRF).Handle("/auth/logout", handlers.NewLogoutHandler(s.logger))
		r.With(csrf.ValidateCSRFHeader).Handle("/api/*", http.StripPrefix("/api", reverseProxy))

		for _, route := range resolved {
			h := r.With(g.Protect(route), csrf.ValidateCSRF)
			if route.Path == "/callback" {
				h = h.With(limiter.Middleware)
			}
			h.Handle(route.Path, route.Handler)
			s.logger.Debug("route mounted",
				"path", route.Path,
				"name", route.Name,
				"requires_auth", route.RequiresAuth,
				"requirements", len(route.Requirements),
			)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})

	return r, nil
}

// routeTree declares every view. The /admin section carries the deployment's
// requirement and its children inherit it.
func (s *Server) routeTree(api *backend.Client) []routes.Route {
	admin := handlers.NewAdminHandler(api, s.cfg.UI.Title, s.logger)

	section := routes.SectionMeta(s.cfg.Authorization.Section)
	section.Title = s.cfg.UI.Title

	return []routes.Route{
		{
			Path:    "/",
			Name:    "root",
			Handler: http.RedirectHandler(handlers.HomePath, http.StatusFound),
		},
		{
			Path:    "/callback",
			Name:    "callback",
			Meta:    routes.Meta{Open: true},
			Handler: handlers.NewCallbackHandler(s.logger),
		},
		{
			Path:    guard.UnauthorizedPath,
			Name:    "unauthorized",
			Meta:    routes.Meta{Open: true},
			Handler: handlers.Unauthorized(s.cfg.DirectoryURL()),
		},
		{
			Path: "/admin",
			Name: "admin",
			Meta: section,
			Children: []routes.Route{
				{Path: "dashboard", Name: "dashboard", Handler: http.HandlerFunc(admin.Dashboard)},
				{Path: "agencias", Name: "agencias", Handler: http.HandlerFunc(admin.Agencies)},
				{Path: "agencias/sincronizar", Name: "agencias-sincronizar", Handler: http.HandlerFunc(admin.SyncAgencies)},
				{Path: "inventarios", Name: "inventarios", Handler: http.HandlerFunc(admin.Inventories)},
				{Path: "inventarios/{id}", Name: "inventario", Handler: http.HandlerFunc(admin.Inventory)},
				{Path: "inventarios/{id}/eliminar", Name: "inventario-eliminar", Handler: http.HandlerFunc(admin.DeleteInventory)},
				{Path: "inventarios/{id}/incidentes", Name: "incidentes", Handler: http.HandlerFunc(admin.CreateIncident)},
				{Path: "categorias", Name: "categorias", Handler: http.HandlerFunc(admin.Categories)},
				{Path: "categorias/{id}/eliminar", Name: "categoria-eliminar", Handler: http.HandlerFunc(admin.DeleteCategory)},
			},
		},
	}
}
