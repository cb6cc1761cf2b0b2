// Package devstack runs stand-ins for the mother provider and the child
// backend so the child application can be exercised locally.
package devstack

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/pkce"
)

const tokenTTL = time.Hour

type pendingCode struct {
	clientID    string
	redirectURI string
	challenge   string
}

// Provider signs every visitor in as Profile. Codes are single use and only
// redeemable with the verifier matching their challenge.
type Provider struct {
	Profile identity.UserProfile

	mu      sync.Mutex
	codes   map[string]pendingCode
	tokens  map[string]time.Time
	signKey []byte
	logger  *slog.Logger
}

func NewProvider(profile identity.UserProfile, logger *slog.Logger) *Provider {
	return &Provider{
		Profile: profile,
		codes:   make(map[string]pendingCode),
		tokens:  make(map[string]time.Time),
		signKey: securecookie.GenerateRandomKey(32),
		logger:  logger,
	}
}

func (p *Provider) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/auth/initiate", p.authorize)
	r.Post("/oauth/token", p.token)
	r.Get("/api/user", p.user)
	r.Get("/logout", page("Sesión cerrada en la App Madre"))
	r.Get("/apps", page("Directorio de aplicaciones"))
	return r
}

// Valid reports whether token was issued here and has not expired.
func (p *Provider) Valid(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	exp, ok := p.tokens[token]
	return ok && time.Now().Before(exp)
}

func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		http.Error(w, "unsupported authorization request", http.StatusBadRequest)
		return
	}

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirect.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = pendingCode{
		clientID:    q.Get("client_id"),
		redirectURI: redirect.String(),
		challenge:   q.Get("code_challenge"),
	}
	p.mu.Unlock()

	p.logger.Info("issued authorization code", "client_id", q.Get("client_id"))

	params := redirect.Query()
	params.Set("code", code)
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}

	code := r.PostForm.Get("code")

	p.mu.Lock()
	pending, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	switch {
	case r.PostForm.Get("grant_type") != "authorization_code":
		tokenError(w, "unsupported_grant_type")
		return
	case !ok || pending.clientID != r.PostForm.Get("client_id") || pending.redirectURI != r.PostForm.Get("redirect_uri"):
		tokenError(w, "invalid_grant")
		return
	case pkce.DeriveChallenge(r.PostForm.Get("code_verifier")) != pending.challenge:
		p.logger.Warn("verifier does not match challenge", "client_id", pending.clientID)
		tokenError(w, "invalid_grant")
		return
	}

	exp := time.Now().Add(tokenTTL)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   p.Profile.ID,
		Audience:  jwt.ClaimStrings{pending.clientID},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ID:        uuid.NewString(),
	}).SignedString(p.signKey)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.tokens[signed] = exp
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

func (p *Provider) user(w http.ResponseWriter, r *http.Request) {
	token, ok := bearer(r)
	if !ok || !p.Valid(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
		return
	}
	writeJSON(w, http.StatusOK, p.Profile)
}

func tokenError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func page(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text + "\n"))
	}
}
