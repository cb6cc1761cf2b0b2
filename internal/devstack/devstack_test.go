package devstack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/cache"
	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bearerTransport string

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+string(t))
	return http.DefaultTransport.RoundTrip(req)
}

func newStack(t *testing.T) (*Provider, *httptest.Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := NewProvider(identity.UserProfile{
		ID:          "1",
		Name:        "Ana",
		Roles:       []string{"Editor"},
		Permissions: []string{"view_dash"},
	}, logger)

	providerSrv := httptest.NewServer(provider.Routes())
	t.Cleanup(providerSrv.Close)

	backendSrv := httptest.NewServer(NewBackend(provider.Valid, logger).Routes())
	t.Cleanup(backendSrv.Close)

	return provider, providerSrv, backendSrv
}

func identityClient(t *testing.T, providerURL string) *identity.Client {
	t.Helper()

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			BaseURL:       providerURL,
			ClientID:      "inventario",
			RedirectURI:   "http://child.test/callback",
			AuthorizePath: "/auth/initiate",
			TokenPath:     "/oauth/token",
			ProfilePath:   "/api/user",
			Timeout:       5 * time.Second,
		},
		MotherApp: config.MotherAppConfig{URL: providerURL, LogoutPath: "/logout"},
	}

	client, err := identity.New(context.Background(), cfg, cache.NewMemoryCache(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

// authorize follows the provider's authorize redirect and returns the code.
func authorize(t *testing.T, authURL string) string {
	t.Helper()

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := noFollow.Get(authURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "child.test", loc.Host)
	return loc.Query().Get("code")
}

func TestProviderSignIn(t *testing.T) {
	ctx := context.Background()
	_, providerSrv, _ := newStack(t)
	client := identityClient(t, providerSrv.URL)

	jar := storage.NewMemoryJar()
	redirect, err := client.Initiate(ctx, jar)
	require.NoError(t, err)

	code := authorize(t, redirect.URL)
	require.NotEmpty(t, code)

	tok, err := client.ExchangeCode(ctx, jar, code)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), tok.Expiry, time.Minute)

	profile, err := client.FetchProfile(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Ana", profile.Name)
	assert.True(t, profile.HasPermission("view_dash"))

	_, err = client.FetchProfile(ctx, "forged")
	assert.True(t, errors.Is(err, identity.ErrUnauthorized))
}

func TestProviderRejectsReplayAndWrongVerifier(t *testing.T) {
	ctx := context.Background()
	_, providerSrv, _ := newStack(t)
	client := identityClient(t, providerSrv.URL)

	jar := storage.NewMemoryJar()
	redirect, err := client.Initiate(ctx, jar)
	require.NoError(t, err)
	code := authorize(t, redirect.URL)

	other := storage.NewMemoryJar()
	require.NoError(t, other.Set(storage.KeyVerifier, "a-verifier-that-was-never-challenged-0123456789"))
	_, err = client.ExchangeCode(ctx, other, code)
	assert.True(t, errors.Is(err, identity.ErrExchangeFailed))

	// The failed attempt consumed the code.
	_, err = client.ExchangeCode(ctx, jar, code)
	assert.True(t, errors.Is(err, identity.ErrExchangeFailed))
}

func TestProviderRejectsPlainChallenge(t *testing.T) {
	_, providerSrv, _ := newStack(t)

	resp, err := http.Get(providerSrv.URL + "/auth/initiate?response_type=code&code_challenge=x&code_challenge_method=plain&redirect_uri=http://child.test/callback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBackend(t *testing.T) {
	ctx := context.Background()
	provider, providerSrv, backendSrv := newStack(t)
	client := identityClient(t, providerSrv.URL)

	jar := storage.NewMemoryJar()
	redirect, err := client.Initiate(ctx, jar)
	require.NoError(t, err)
	tok, err := client.ExchangeCode(ctx, jar, authorize(t, redirect.URL))
	require.NoError(t, err)
	require.True(t, provider.Valid(tok.AccessToken))

	api := backend.New(backendSrv.URL, &http.Client{Transport: bearerTransport(tok.AccessToken)})

	_, err = api.SyncAgencies(ctx)
	require.NoError(t, err)
	agencies, err := api.Agencies(ctx)
	require.NoError(t, err)
	require.Len(t, agencies, 2)
	assert.Equal(t, "AG-01", agencies[0].ID())

	category, err := api.CreateCategory(ctx, backend.Record{"nombre": "Laptops"})
	require.NoError(t, err)

	item, err := api.CreateInventory(ctx, backend.Record{"nombre": "ThinkPad", "categoria_id": category.ID()})
	require.NoError(t, err)

	_, err = api.CreateIncident(ctx, backend.Record{"inventario_id": item.ID(), "descripcion": "Pantalla rota"})
	require.NoError(t, err)

	incidents, err := api.IncidentsByInventory(ctx, item.ID())
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "abierto", incidents[0].Text("estado"))

	updated, err := api.UpdateInventory(ctx, item.ID(), backend.Record{"estado": "en reparación"})
	require.NoError(t, err)
	assert.Equal(t, "ThinkPad", updated.Text("nombre"))

	require.NoError(t, api.DeleteCategory(ctx, category.ID()))
	categories, err := api.Categories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)

	anonymous := backend.New(backendSrv.URL, &http.Client{Transport: bearerTransport("forged")})
	_, err = anonymous.Inventories(ctx)
	assert.True(t, errors.Is(err, backend.ErrUnauthorized))
}
