// Package session owns the sign-in state of one browser: its token, its
// resolved user and the transitions between them.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/metrics"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"github.com/marcogenualdo/sso-child/pkg/security"
)

// IdentityClient is the part of identity.Client the session drives.
type IdentityClient interface {
	Initiate(ctx context.Context, jar storage.Jar) (*identity.Redirect, error)
	ExchangeCode(ctx context.Context, jar storage.Jar, code string) (*identity.TokenResult, error)
	FetchProfile(ctx context.Context, token string) (*identity.UserProfile, error)
	Forget(ctx context.Context, token string)
	LogoutRedirect() *identity.Redirect
}

// Manager is the session of one browser for the duration of a request. It
// starts from durable storage: a stored token with no resolved user.
type Manager struct {
	client         IdentityClient
	jar            storage.Jar
	superAdminRole string
	logger         *slog.Logger

	mu            sync.Mutex
	state         State
	token         string
	user          *identity.UserProfile
	ready         bool
	ssoInProgress bool
}

func NewManager(client IdentityClient, jar storage.Jar, superAdminRole string, logger *slog.Logger) *Manager {
	m := &Manager{
		client:         client,
		jar:            jar,
		superAdminRole: superAdminRole,
		logger:         logger,
		state:          Anonymous,
	}

	if token, ok := jar.Get(storage.KeyAccessToken); ok && token != "" {
		m.token = token
		m.state = AuthenticatedUnresolved
	}

	return m
}

// Login stores a fresh PKCE verifier and returns the redirect to the
// provider. The caller must write it and stop handling the request.
func (m *Manager) Login(ctx context.Context) (*identity.Redirect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	redirect, err := m.client.Initiate(ctx, m.jar)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate sign-in: %w", err)
	}

	m.ssoInProgress = true
	m.state = SSOPending

	return redirect, nil
}

// HandleCallback completes a sign-in with the code the provider sent back.
// Any failure leaves the session Anonymous.
func (m *Manager) HandleCallback(ctx context.Context, code string) error {
	m.mu.Lock()
	m.state = Exchanging
	m.ssoInProgress = true
	m.mu.Unlock()

	result, err := m.client.ExchangeCode(ctx, m.jar, code)
	if err != nil {
		m.reset(ctx, "exchange_failed")
		return err
	}

	m.mu.Lock()
	if err := m.jar.Set(storage.KeyAccessToken, result.AccessToken); err != nil {
		m.resetLocked(ctx, "persist_failed")
		m.mu.Unlock()
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	m.token = result.AccessToken
	m.user = nil
	m.ready = false
	m.state = AuthenticatedUnresolved
	m.mu.Unlock()

	return m.FetchUser(ctx)
}

// FetchUser resolves the stored token to a user. Any failure is treated as an
// invalid session: the session is reset before an error wrapping
// ErrInvalidSession is returned.
func (m *Manager) FetchUser(ctx context.Context) error {
	m.mu.Lock()
	token := m.token
	if token == "" {
		m.user = nil
		m.ready = true
		m.state = Anonymous
		m.mu.Unlock()
		return nil
	}
	m.state = AuthenticatedUnresolved
	m.mu.Unlock()

	profile, err := m.client.FetchProfile(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != token {
		// Reset or replaced while the request was in flight.
		return fmt.Errorf("%w: token changed during profile fetch", ErrInvalidSession)
	}

	if err != nil {
		m.logger.Info("stored token rejected, resetting session", "error", err)
		m.resetLocked(ctx, "profile_fetch_failed")
		m.ready = true
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	m.user = profile
	m.ready = true
	m.ssoInProgress = false
	m.state = Authenticated

	if snapshot, err := json.Marshal(profile); err != nil {
		m.logger.Warn("failed to encode user snapshot", "error", err)
	} else if err := m.jar.Set(storage.KeyUserSnapshot, string(snapshot)); err != nil {
		m.logger.Warn("failed to store user snapshot", "error", err)
	}

	return nil
}

// Logout clears the local session and returns the redirect to the mother
// application's logout, which ends the session of every child application.
func (m *Manager) Logout(ctx context.Context) *identity.Redirect {
	m.reset(ctx, "logout")
	return m.client.LogoutRedirect()
}

// LogoutLocal clears the local session only. It is idempotent and safe to
// call concurrently.
func (m *Manager) LogoutLocal(ctx context.Context) {
	m.reset(ctx, "logout_local")
}

// ResetLocal is LogoutLocal with the reason recorded in metrics.
func (m *Manager) ResetLocal(ctx context.Context, reason string) {
	m.reset(ctx, reason)
}

func (m *Manager) reset(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(ctx, reason)
}

func (m *Manager) resetLocked(ctx context.Context, reason string) {
	token := m.token

	m.token = ""
	m.user = nil
	m.ready = false
	m.ssoInProgress = false
	m.state = Anonymous

	if err := m.jar.Delete(storage.AllKeys...); err != nil {
		m.logger.Warn("failed to clear session storage", "error", err)
	}

	if token != "" {
		m.client.Forget(ctx, token)
		metrics.RecordSessionReset(reason)
	}
}

// Can reports whether the user holds permission. The super admin role holds
// every permission.
func (m *Manager) Can(permission string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil {
		return false
	}
	if m.superAdminRole != "" && m.user.HasRole(m.superAdminRole) {
		return true
	}
	return m.user.HasPermission(permission)
}

func (m *Manager) HasRole(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.user != nil && m.user.HasRole(role)
}

// User returns a copy of the resolved user, or nil.
func (m *Manager) User() *identity.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.user.Clone()
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token
}

func (m *Manager) HasToken() bool {
	return m.Token() != ""
}

func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ready
}

func (m *Manager) SSOInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ssoInProgress
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// CSRFToken returns the browser's form token, creating and storing one on
// first use. It survives until the session is reset.
func (m *Manager) CSRFToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token, ok := m.jar.Get(storage.KeyCSRF); ok {
		return token, nil
	}

	token, err := security.GenerateCSRFToken()
	if err != nil {
		return "", err
	}
	if err := m.jar.Set(storage.KeyCSRF, token); err != nil {
		return "", fmt.Errorf("failed to store CSRF token: %w", err)
	}
	return token, nil
}

// VerifyCSRF reports whether token is the browser's stored form token.
func (m *Manager) VerifyCSRF(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jar.Get(storage.KeyCSRF)
	return ok && security.TokensEqual(stored, token)
}
