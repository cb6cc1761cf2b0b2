package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/cache"
	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/marcogenualdo/sso-child/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	exchangeErr error
	fetchErr    error
}

func (s *stubClient) Initiate(_ context.Context, jar storage.Jar) (*identity.Redirect, error) {
	return &identity.Redirect{URL: "https://madre.example.com/auth/initiate"}, jar.Set(storage.KeyVerifier, "v")
}

func (s *stubClient) ExchangeCode(_ context.Context, jar storage.Jar, code string) (*identity.TokenResult, error) {
	if _, ok := jar.Get(storage.KeyVerifier); !ok {
		return nil, identity.ErrMissingVerifier
	}
	_ = jar.Delete(storage.KeyVerifier)
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &identity.TokenResult{AccessToken: "T"}, nil
}

func (s *stubClient) FetchProfile(context.Context, string) (*identity.UserProfile, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return &identity.UserProfile{ID: "1", Name: "Ana", Roles: []string{"Editor"}}, nil
}

func (s *stubClient) Forget(context.Context, string) {}

func (s *stubClient) LogoutRedirect() *identity.Redirect {
	return &identity.Redirect{URL: "https://madre.example.com/logout"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serveWithSession(client session.IdentityClient, jar *storage.MemoryJar, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	svc := session.NewService(client, storage.MemoryProvider{J: jar}, "Super Admin", discardLogger())
	rec := httptest.NewRecorder()
	svc.Attach(h).ServeHTTP(rec, req)
	return rec
}

func TestCallback(t *testing.T) {
	tests := []struct {
		name         string
		client       *stubClient
		signInFirst  bool
		query        string
		wantStatus   int
		wantLocation string
		wantBody     string
		wantToken    bool
	}{
		{
			name:         "success",
			client:       &stubClient{},
			signInFirst:  true,
			query:        "code=abc",
			wantStatus:   http.StatusFound,
			wantLocation: HomePath,
			wantToken:    true,
		},
		{
			name:       "no sign-in in flight",
			client:     &stubClient{},
			query:      "code=abc",
			wantStatus: http.StatusBadRequest,
			wantBody:   "Inicio de sesión caducado",
		},
		{
			name:        "exchange rejected",
			client:      &stubClient{exchangeErr: fmt.Errorf("%w: invalid_grant", identity.ErrExchangeFailed)},
			signInFirst: true,
			query:       "code=abc",
			wantStatus:  http.StatusBadGateway,
		},
		{
			name:        "profile rejected",
			client:      &stubClient{fetchErr: identity.ErrUnauthorized},
			signInFirst: true,
			query:       "code=abc",
			wantStatus:  http.StatusUnauthorized,
			wantBody:    "Sesión inválida",
		},
		{
			name:        "provider error",
			client:      &stubClient{},
			signInFirst: true,
			query:       "error=access_denied",
			wantStatus:  http.StatusBadRequest,
			wantBody:    "access_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := storage.NewMemoryJar()
			if tt.signInFirst {
				require.NoError(t, jar.Set(storage.KeyVerifier, "v"))
			}

			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil)
			rec := serveWithSession(tt.client, jar, NewCallbackHandler(discardLogger()), req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}

			_, ok := jar.Get(storage.KeyAccessToken)
			assert.Equal(t, tt.wantToken, ok)
			_, ok = jar.Get(storage.KeyVerifier)
			assert.False(t, ok, "verifier never survives the callback")
		})
	}
}

func TestLogout(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))

	rec := serveWithSession(&stubClient{}, jar, NewLogoutHandler(discardLogger()),
		httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	_, ok := jar.Get(storage.KeyAccessToken)
	assert.True(t, ok)

	rec = serveWithSession(&stubClient{}, jar, NewLogoutHandler(discardLogger()),
		httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://madre.example.com/logout", rec.Header().Get("Location"))
	_, ok = jar.Get(storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestPages(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized("https://madre.example.com/apps")(rec, httptest.NewRequest(http.MethodGet, "/unauthorized", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="https://madre.example.com/apps"`)

	rec = httptest.NewRecorder()
	SessionExpired()(rec, httptest.NewRequest(http.MethodGet, "/admin/categorias", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/admin/categorias"`)
}

func newAdmin(t *testing.T, backendHandler http.HandlerFunc) *AdminHandler {
	t.Helper()

	srv := httptest.NewServer(backendHandler)
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: transport.New(nil, "/login", discardLogger())}
	return NewAdminHandler(backend.New(srv.URL+"/api", client), "Sistema de Inventario IT", discardLogger())
}

func signedInJar(t *testing.T) *storage.MemoryJar {
	t.Helper()
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	return jar
}

// resolved runs h after resolving the session user, as the guard would.
func resolved(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, _ := session.FromContext(r.Context())
		_ = m.FetchUser(r.Context())
		h(w, r)
	})
}

func TestDashboard(t *testing.T) {
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := serveWithSession(&stubClient{}, signedInJar(t), resolved(admin.Dashboard),
		httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bienvenido, Ana.")
	assert.Contains(t, rec.Body.String(), "Roles: Editor")
}

func TestAgencies(t *testing.T) {
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data": [{"codigo": "A1", "nombre": "Matriz", "ciudad": "Quito"}]}`)
	})

	rec := serveWithSession(&stubClient{}, signedInJar(t), resolved(admin.Agencies),
		httptest.NewRequest(http.MethodGet, "/admin/agencias", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<td>Matriz</td>")
	assert.Contains(t, rec.Body.String(), `action="/admin/agencias/sincronizar"`)
}

func TestSyncAgencies(t *testing.T) {
	var synced atomic.Bool
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		synced.Store(r.Method == http.MethodPost && r.URL.Path == "/api/sincronizar-agencias")
		_, _ = io.WriteString(w, `{"message": "ok"}`)
	})

	rec := serveWithSession(&stubClient{}, signedInJar(t), resolved(admin.SyncAgencies),
		httptest.NewRequest(http.MethodPost, "/admin/agencias/sincronizar", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/agencias", rec.Header().Get("Location"))
	assert.True(t, synced.Load())
}

func TestBackendUnauthorizedClearsSession(t *testing.T) {
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	jar := signedInJar(t)

	rec := serveWithSession(&stubClient{}, jar, resolved(admin.Categories),
		httptest.NewRequest(http.MethodGet, "/admin/categorias", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Su sesión ha expirado")
	_, ok := jar.Get(storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestCreateCategory(t *testing.T) {
	created := make(chan backend.Record, 1)
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		var got backend.Record
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		created <- got
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 5}`)
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/categorias", strings.NewReader("nombre=Laptops&descripcion="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serveWithSession(&stubClient{}, signedInJar(t), resolved(admin.Categories), req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, backend.Record{"nombre": "Laptops"}, <-created)
}

func TestInventoryDetail(t *testing.T) {
	admin := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/inventarios/3":
			_, _ = io.WriteString(w, `{"id": 3, "nombre": "Laptop Dell"}`)
		case "/api/inventarios/3/incidentes":
			_, _ = io.WriteString(w, `[{"descripcion": "Teclado dañado"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	router := chi.NewRouter()
	router.Get("/admin/inventarios/{id}", admin.Inventory)

	rec := serveWithSession(&stubClient{}, signedInJar(t), resolved(router.ServeHTTP),
		httptest.NewRequest(http.MethodGet, "/admin/inventarios/3", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Equipo Laptop Dell")
	assert.Contains(t, rec.Body.String(), "Teclado dañado")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	ttl := 30 * time.Second
	cfg := &config.Config{
		Cache:   config.CacheConfig{Type: "memory", TTL: &ttl},
		Backend: config.BackendConfig{URL: srv.URL},
	}

	h := NewHealthHandler(cfg, c, backend.New(srv.URL, srv.Client()), discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Cache.Status)
	assert.Equal(t, "reachable", resp.Backend.Status)

	srv.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
