// Package transport carries the browser's session onto calls to the child
// backend.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/marcogenualdo/sso-child/internal/session"
)

type contextKey string

const originContextKey contextKey = "origin"

// WithOrigin records the page path that caused the outgoing request.
func WithOrigin(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, originContextKey, path)
}

func Origin(ctx context.Context) string {
	origin, _ := ctx.Value(originContextKey).(string)
	return origin
}

// Transport attaches the session's bearer token to child backend requests and
// clears the local session when the backend answers 401. It never sends the
// browser to the provider's logout.
//
// It must only be used for the child backend. The mother provider is called
// with explicit credentials by the identity client.
type Transport struct {
	Base http.RoundTripper
	// LoginMarker exempts requests made from the login page flow from the
	// 401 reset.
	LoginMarker string
	Logger      *slog.Logger
}

func New(base http.RoundTripper, loginMarker string, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		Base:        base,
		LoginMarker: loginMarker,
		Logger:      logger,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	m, ok := session.FromContext(req.Context())

	if ok {
		if token := m.Token(); token != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && ok && !t.fromLoginFlow(req.Context()) {
		t.Logger.Info("backend rejected the session, clearing it",
			"url", req.URL.Path,
			"origin", Origin(req.Context()),
		)
		m.ResetLocal(req.Context(), "backend_unauthorized")
	}

	return resp, nil
}

func (t *Transport) fromLoginFlow(ctx context.Context) bool {
	return t.LoginMarker != "" && strings.Contains(Origin(ctx), t.LoginMarker)
}
