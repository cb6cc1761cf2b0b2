package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	mu        sync.Mutex
	profiles  map[string]*identity.UserProfile
	fetchErr  error
	exchange  func(jar storage.Jar, code string) (*identity.TokenResult, error)
	forgotten []string
	fetches   int
	// blockFetch, when set, is closed by the test to let FetchProfile return.
	blockFetch chan struct{}
	inFetch    chan struct{}
}

func newStubClient() *stubClient {
	return &stubClient{
		profiles: map[string]*identity.UserProfile{
			"T": {ID: "1", Roles: []string{"Editor"}, Permissions: []string{"view_dash"}},
		},
	}
}

func (s *stubClient) Initiate(_ context.Context, jar storage.Jar) (*identity.Redirect, error) {
	if err := jar.Set(storage.KeyVerifier, "verifier"); err != nil {
		return nil, err
	}
	return &identity.Redirect{URL: "https://madre.example.com/auth/initiate"}, nil
}

func (s *stubClient) ExchangeCode(_ context.Context, jar storage.Jar, code string) (*identity.TokenResult, error) {
	if s.exchange != nil {
		return s.exchange(jar, code)
	}
	if _, ok := jar.Get(storage.KeyVerifier); !ok {
		return nil, identity.ErrMissingVerifier
	}
	_ = jar.Delete(storage.KeyVerifier)
	if code != "good-code" {
		return nil, fmt.Errorf("%w: invalid_grant", identity.ErrExchangeFailed)
	}
	return &identity.TokenResult{AccessToken: "T"}, nil
}

func (s *stubClient) FetchProfile(_ context.Context, token string) (*identity.UserProfile, error) {
	if s.inFetch != nil {
		s.inFetch <- struct{}{}
	}
	if s.blockFetch != nil {
		<-s.blockFetch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	p, ok := s.profiles[token]
	if !ok {
		return nil, identity.ErrUnauthorized
	}
	return p.Clone(), nil
}

func (s *stubClient) Forget(_ context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, token)
}

func (s *stubClient) LogoutRedirect() *identity.Redirect {
	return &identity.Redirect{URL: "https://madre.example.com/logout"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(client IdentityClient, jar storage.Jar) *Manager {
	return NewManager(client, jar, "Super Admin", discardLogger())
}

func TestNewManagerLoadsStoredToken(t *testing.T) {
	jar := storage.NewMemoryJar()
	m := newTestManager(newStubClient(), jar)
	assert.Equal(t, Anonymous, m.State())
	assert.False(t, m.HasToken())

	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	m = newTestManager(newStubClient(), jar)
	assert.Equal(t, AuthenticatedUnresolved, m.State())
	assert.Equal(t, "T", m.Token())
	assert.False(t, m.Ready())
	assert.Nil(t, m.User())
}

func TestLogin(t *testing.T) {
	jar := storage.NewMemoryJar()
	m := newTestManager(newStubClient(), jar)

	redirect, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://madre.example.com/auth/initiate", redirect.URL)
	assert.Equal(t, SSOPending, m.State())
	assert.True(t, m.SSOInProgress())

	_, ok := jar.Get(storage.KeyVerifier)
	assert.True(t, ok)
}

func TestHandleCallback(t *testing.T) {
	jar := storage.NewMemoryJar()
	client := newStubClient()

	_, err := newTestManager(client, jar).Login(context.Background())
	require.NoError(t, err)

	// The provider redirect lands on a fresh page load.
	m := newTestManager(client, jar)
	require.NoError(t, m.HandleCallback(context.Background(), "good-code"))

	assert.Equal(t, Authenticated, m.State())
	assert.True(t, m.Ready())
	assert.False(t, m.SSOInProgress())
	assert.Equal(t, "T", m.Token())
	require.NotNil(t, m.User())
	assert.Equal(t, "1", m.User().ID)

	token, _ := jar.Get(storage.KeyAccessToken)
	assert.Equal(t, "T", token)
	snapshot, ok := jar.Get(storage.KeyUserSnapshot)
	assert.True(t, ok)
	assert.Contains(t, snapshot, "view_dash")
}

func TestHandleCallbackFailures(t *testing.T) {
	tests := []struct {
		name    string
		login   bool
		code    string
		setup   func(c *stubClient)
		wantErr error
	}{
		{name: "no sign-in in flight", code: "good-code", wantErr: identity.ErrMissingVerifier},
		{name: "rejected code", login: true, code: "bad-code", wantErr: identity.ErrExchangeFailed},
		{
			name:  "profile rejected",
			login: true,
			code:  "good-code",
			setup: func(c *stubClient) {
				c.fetchErr = fmt.Errorf("%w: profile endpoint returned 401", identity.ErrUnauthorized)
			},
			wantErr: ErrInvalidSession,
		},
		{
			name:  "provider down after exchange",
			login: true,
			code:  "good-code",
			setup: func(c *stubClient) {
				c.fetchErr = identity.ErrNetwork
			},
			wantErr: identity.ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := storage.NewMemoryJar()
			client := newStubClient()
			if tt.setup != nil {
				tt.setup(client)
			}
			if tt.login {
				_, err := newTestManager(client, jar).Login(context.Background())
				require.NoError(t, err)
			}

			m := newTestManager(client, jar)
			err := m.HandleCallback(context.Background(), tt.code)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, Anonymous, m.State())
			assert.Empty(t, m.Token())
			assert.Nil(t, m.User())
			for _, key := range storage.AllKeys {
				_, ok := jar.Get(key)
				assert.False(t, ok, "%s must be cleared", key)
			}
		})
	}
}

func TestFetchUserWithoutToken(t *testing.T) {
	client := newStubClient()
	m := newTestManager(client, storage.NewMemoryJar())

	require.NoError(t, m.FetchUser(context.Background()))
	assert.True(t, m.Ready())
	assert.Equal(t, Anonymous, m.State())
	assert.Zero(t, client.fetches)
}

func TestFetchUserFailureResets(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "revoked"))
	require.NoError(t, jar.Set(storage.KeyUserSnapshot, `{"id":"1"}`))
	client := newStubClient()

	m := newTestManager(client, jar)
	err := m.FetchUser(context.Background())
	require.ErrorIs(t, err, ErrInvalidSession)
	require.ErrorIs(t, err, identity.ErrUnauthorized)

	assert.Equal(t, Anonymous, m.State())
	assert.Empty(t, m.Token())
	assert.Nil(t, m.User())
	assert.Equal(t, []string{"revoked"}, client.forgotten)
	_, ok := jar.Get(storage.KeyUserSnapshot)
	assert.False(t, ok, "snapshot must not outlive its token")
}

func TestFetchUserDiscardsStaleResult(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))

	client := newStubClient()
	client.inFetch = make(chan struct{})
	client.blockFetch = make(chan struct{})
	m := newTestManager(client, jar)

	errCh := make(chan error, 1)
	go func() { errCh <- m.FetchUser(context.Background()) }()

	<-client.inFetch
	m.LogoutLocal(context.Background())
	close(client.blockFetch)

	err := <-errCh
	require.ErrorIs(t, err, ErrInvalidSession)
	assert.Nil(t, m.User())
	assert.Empty(t, m.Token())
	assert.False(t, m.Can("view_dash"))
}

func TestLogout(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	m := newTestManager(newStubClient(), jar)
	require.NoError(t, m.FetchUser(context.Background()))
	require.True(t, m.Can("view_dash"))

	redirect := m.Logout(context.Background())
	assert.Equal(t, "https://madre.example.com/logout", redirect.URL)
	assert.False(t, m.Can("view_dash"))
	assert.False(t, m.Ready())
	_, ok := jar.Get(storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestLogoutLocalIdempotent(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	client := newStubClient()
	m := newTestManager(client, jar)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.LogoutLocal(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, Anonymous, m.State())
	assert.Equal(t, []string{"T"}, client.forgotten, "token forgotten exactly once")
}

func TestCanAndHasRole(t *testing.T) {
	tests := []struct {
		name       string
		user       *identity.UserProfile
		permission string
		role       string
		wantCan    bool
		wantRole   bool
	}{
		{name: "no user", permission: "view_dash", role: "Editor"},
		{
			name:       "explicit permission",
			user:       &identity.UserProfile{Roles: []string{"Editor"}, Permissions: []string{"view_dash"}},
			permission: "view_dash",
			role:       "Editor",
			wantCan:    true,
			wantRole:   true,
		},
		{
			name:       "missing permission",
			user:       &identity.UserProfile{Roles: []string{"Editor"}, Permissions: []string{}},
			permission: "manage_categories",
			role:       "Auditor",
		},
		{
			name:       "super admin holds everything",
			user:       &identity.UserProfile{Roles: []string{"Super Admin"}},
			permission: "manage_categories",
			role:       "Super Admin",
			wantCan:    true,
			wantRole:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jar := storage.NewMemoryJar()
			client := newStubClient()
			if tt.user != nil {
				client.profiles["U"] = tt.user
				require.NoError(t, jar.Set(storage.KeyAccessToken, "U"))
			}

			m := newTestManager(client, jar)
			require.NoError(t, m.FetchUser(context.Background()))

			assert.Equal(t, tt.wantCan, m.Can(tt.permission))
			assert.Equal(t, tt.wantRole, m.HasRole(tt.role))
		})
	}
}

func TestAttach(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	svc := NewService(newStubClient(), storage.MemoryProvider{J: jar}, "Super Admin", discardLogger())

	var got *Manager
	h := svc.Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = FromContext(r.Context())
		require.True(t, ok)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))

	require.NotNil(t, got)
	assert.Equal(t, "T", got.Token())

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "authenticated_unresolved", AuthenticatedUnresolved.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, errors.Is(ErrInvalidSession, identity.ErrUnauthorized))
}

func TestCSRFToken(t *testing.T) {
	jar := storage.NewMemoryJar()
	require.NoError(t, jar.Set(storage.KeyAccessToken, "T"))
	m := newTestManager(newStubClient(), jar)

	assert.False(t, m.VerifyCSRF(""), "no token issued yet")

	token, err := m.CSRFToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	again, err := m.CSRFToken()
	require.NoError(t, err)
	assert.Equal(t, token, again, "one token per session")

	reloaded := newTestManager(newStubClient(), jar)
	assert.True(t, reloaded.VerifyCSRF(token))
	assert.False(t, reloaded.VerifyCSRF("forged"))

	reloaded.LogoutLocal(context.Background())
	assert.False(t, reloaded.VerifyCSRF(token), "reset drops the token")
}
