// Package proxy forwards the browser's /api calls to the child backend with
// the session's bearer token.
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/transport"
)

type ReverseProxy struct {
	proxy        *httputil.ReverseProxy
	cfg          config.BackendConfig
	cookiePrefix string
	logger       *slog.Logger
}

// NewReverseProxy builds a proxy to cfg.URL sending through rt, normally the
// session transport.
func NewReverseProxy(cfg config.BackendConfig, cookiePrefix string, rt http.RoundTripper, logger *slog.Logger) (*ReverseProxy, error) {
	backendURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(backendURL)
	proxy.Transport = rt

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = backendURL.Host
		req.URL.Scheme = backendURL.Scheme
		req.URL.Host = backendURL.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			"error", err,
			"backend", backendURL.String(),
			"path", r.URL.Path,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	return &ReverseProxy{
		proxy:        proxy,
		cfg:          cfg,
		cookiePrefix: cookiePrefix,
		logger:       logger,
	}, nil
}

// ServeHTTP expects the /api prefix already stripped and a session in the
// request context.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := OriginPath(r)

	out := r.Clone(transport.WithOrigin(r.Context(), origin))
	StripCredentials(out, rp.cookiePrefix)

	rp.logger.Debug("proxying request",
		"path", out.URL.Path,
		"backend", rp.cfg.URL,
		"origin", origin,
	)

	rp.proxy.ServeHTTP(w, out)
}
