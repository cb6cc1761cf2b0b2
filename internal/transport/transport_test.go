package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{}

func (stubClient) Initiate(context.Context, storage.Jar) (*identity.Redirect, error) {
	return &identity.Redirect{URL: "https://madre.example.com/auth/initiate"}, nil
}

func (stubClient) ExchangeCode(context.Context, storage.Jar, string) (*identity.TokenResult, error) {
	return nil, identity.ErrExchangeFailed
}

func (stubClient) FetchProfile(context.Context, string) (*identity.UserProfile, error) {
	return &identity.UserProfile{ID: "1", Permissions: []string{"view_dash"}}, nil
}

func (stubClient) Forget(context.Context, string) {}

func (stubClient) LogoutRedirect() *identity.Redirect {
	return &identity.Redirect{URL: "https://madre.example.com/logout"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedIn(t *testing.T) (*session.Manager, *storage.MemoryJar) {
	t.Helper()

	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	m := session.NewManager(stubClient{}, jar, "Super Admin", discardLogger())
	require.NoError(t, m.FetchUser(context.Background()))
	return m, jar
}

// seenHeader records the Authorization header of the last backend request.
type seenHeader struct {
	mu    sync.Mutex
	value string
}

func (s *seenHeader) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func newBackend(t *testing.T, status int) (*httptest.Server, *seenHeader) {
	t.Helper()

	seen := &seenHeader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.value = r.Header.Get("Authorization")
		seen.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func do(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()

	client := &http.Client{Transport: New(nil, "/login", discardLogger())}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestAttachesBearerToken(t *testing.T) {
	m, _ := signedIn(t)
	srv, seen := newBackend(t, http.StatusOK)

	resp := do(t, session.NewContext(context.Background(), m), srv.URL+"/agencias")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer T", seen.get())
}

func TestNoTokenNoHeader(t *testing.T) {
	m := session.NewManager(stubClient{}, storage.NewMemoryJar(), "Super Admin", discardLogger())
	srv, seen := newBackend(t, http.StatusOK)

	do(t, session.NewContext(context.Background(), m), srv.URL)
	assert.Empty(t, seen.get())

	do(t, context.Background(), srv.URL)
	assert.Empty(t, seen.get())
}

func TestUnauthorizedClearsLocalSession(t *testing.T) {
	m, jar := signedIn(t)
	require.True(t, m.Can("view_dash"))
	srv, _ := newBackend(t, http.StatusUnauthorized)

	ctx := WithOrigin(session.NewContext(context.Background(), m), "/admin/inventarios")
	resp := do(t, ctx, srv.URL+"/inventarios")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the 401 still reaches the caller")
	assert.False(t, m.Can("view_dash"))
	assert.False(t, m.HasRole("Editor"))
	assert.Empty(t, m.Token())
	_, ok := jar.Get(storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestUnauthorizedFromLoginFlowKeepsSession(t *testing.T) {
	m, jar := signedIn(t)
	srv, _ := newBackend(t, http.StatusUnauthorized)

	ctx := WithOrigin(session.NewContext(context.Background(), m), "/login")
	do(t, ctx, srv.URL+"/login")

	assert.Equal(t, "T", m.Token())
	_, ok := jar.Get(storage.KeyAccessToken)
	assert.True(t, ok)
}

func TestOtherErrorsKeepSession(t *testing.T) {
	m, _ := signedIn(t)
	srv, _ := newBackend(t, http.StatusForbidden)

	do(t, session.NewContext(context.Background(), m), srv.URL)
	assert.Equal(t, "T", m.Token())
}

func TestOrigin(t *testing.T) {
	assert.Empty(t, Origin(context.Background()))
	assert.Equal(t, "/admin", Origin(WithOrigin(context.Background(), "/admin")))
}
