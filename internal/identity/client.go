// Package identity talks to the mother identity provider: the authorize
// redirect, the code exchange and the profile lookup.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/marcogenualdo/sso-child/internal/cache"
	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/metrics"
	"github.com/marcogenualdo/sso-child/internal/pkce"
	"github.com/marcogenualdo/sso-child/internal/storage"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Redirect is a full browser navigation. Once written, nothing else runs for
// the current request.
type Redirect struct {
	URL string
}

func (r *Redirect) Write(w http.ResponseWriter, req *http.Request) {
	http.Redirect(w, req, r.URL, http.StatusFound)
}

type TokenResult struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

type Client struct {
	oauth2Config oauth2.Config
	profileURL   string
	logoutURL    string
	httpClient   *http.Client
	cache        cache.Cache
	cacheTTL     time.Duration
	group        singleflight.Group
	logger       *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, c cache.Cache, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: cfg.Provider.Timeout}

	base := strings.TrimRight(cfg.Provider.BaseURL, "/")
	endpoint := oauth2.Endpoint{
		AuthURL:   base + cfg.Provider.AuthorizePath,
		TokenURL:  base + cfg.Provider.TokenPath,
		AuthStyle: oauth2.AuthStyleInParams,
	}

	if cfg.Provider.Issuer != "" {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Provider.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover provider endpoints: %w", err)
		}
		discovered := provider.Endpoint()
		endpoint.AuthURL = discovered.AuthURL
		endpoint.TokenURL = discovered.TokenURL
	}

	var ttl time.Duration
	if cfg.Cache.TTL != nil {
		ttl = *cfg.Cache.TTL
	}

	return &Client{
		oauth2Config: oauth2.Config{
			ClientID:    cfg.Provider.ClientID,
			Endpoint:    endpoint,
			RedirectURL: cfg.Provider.RedirectURI,
			Scopes:      cfg.Provider.Scopes,
		},
		profileURL: base + cfg.Provider.ProfilePath,
		logoutURL:  cfg.LogoutURL(),
		httpClient: httpClient,
		cache:      c,
		cacheTTL:   ttl,
		logger:     logger,
	}, nil
}

// Initiate starts a sign-in. The verifier is durably stored in jar before the
// authorize URL is returned.
func (c *Client) Initiate(ctx context.Context, jar storage.Jar) (*Redirect, error) {
	pair, err := pkce.NewPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	if err := jar.Set(storage.KeyVerifier, pair.Verifier); err != nil {
		return nil, fmt.Errorf("failed to persist code verifier: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	}
	if len(c.oauth2Config.Scopes) == 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", ""))
	}

	metrics.LoginRedirects.Inc()

	return &Redirect{URL: c.oauth2Config.AuthCodeURL("", opts...)}, nil
}

// ExchangeCode trades an authorization code for an access token. The stored
// verifier is consumed whatever the outcome. The token is not persisted.
func (c *Client) ExchangeCode(ctx context.Context, jar storage.Jar, code string) (*TokenResult, error) {
	verifier, ok := jar.Get(storage.KeyVerifier)
	if !ok || verifier == "" {
		metrics.RecordExchange("missing_verifier", 0)
		return nil, ErrMissingVerifier
	}

	defer func() {
		if err := jar.Delete(storage.KeyVerifier); err != nil {
			c.logger.Warn("failed to delete code verifier", "error", err)
		}
	}()

	if code == "" {
		metrics.RecordExchange("failed", 0)
		return nil, fmt.Errorf("%w: missing code parameter", ErrExchangeFailed)
	}

	start := time.Now()
	token, err := c.oauth2Config.Exchange(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		code,
		oauth2.VerifierOption(verifier),
	)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordExchange("failed", elapsed)

		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			return nil, fmt.Errorf("%w: %s", ErrExchangeFailed, rerr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	metrics.RecordExchange("success", elapsed)

	return &TokenResult{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}, nil
}

// FetchProfile asks the provider who owns token. Concurrent lookups for the
// same token share one request.
func (c *Client) FetchProfile(ctx context.Context, token string) (*UserProfile, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	key := profileKey(token)

	if c.cacheTTL > 0 {
		var cached UserProfile
		if err := cache.GetJSON(ctx, c.cache, key, &cached); err == nil {
			metrics.RecordProfileFetch("cache", "success")
			return &cached, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("profile cache read failed", "error", err)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The caller that wins the flight must not cancel the others.
		return c.requestProfile(context.WithoutCancel(ctx), token)
	})
	if err != nil {
		metrics.RecordProfileFetch("provider", resultLabel(err))
		if errors.Is(err, ErrUnauthorized) {
			c.Forget(ctx, token)
		}
		return nil, err
	}

	metrics.RecordProfileFetch("provider", "success")

	profile := v.(*UserProfile)
	if c.cacheTTL > 0 {
		if err := cache.SetJSON(ctx, c.cache, key, profile, c.cacheTTL); err != nil {
			c.logger.Warn("profile cache write failed", "error", err)
		}
	}

	return profile.Clone(), nil
}

func (c *Client) requestProfile(ctx context.Context, token string) (*UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: profile endpoint returned %d", ErrNetwork, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: profile endpoint returned %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrInvalidProfile, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	var profile UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	return &profile, nil
}

// Forget evicts the cached profile of token.
func (c *Client) Forget(ctx context.Context, token string) {
	if token == "" || c.cacheTTL <= 0 {
		return
	}
	if err := c.cache.Delete(ctx, profileKey(token)); err != nil {
		c.logger.Warn("profile cache delete failed", "error", err)
	}
}

// LogoutRedirect sends the browser to the mother application's logout page,
// ending the session for every child application.
func (c *Client) LogoutRedirect() *Redirect {
	return &Redirect{URL: c.logoutURL}
}

func profileKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "profile:" + hex.EncodeToString(sum[:])
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidProfile):
		return "invalid"
	default:
		return "network"
	}
}
