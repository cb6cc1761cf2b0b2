package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/pkg/security"
)

// CSRFMiddleware rejects state-changing requests that do not come from this
// application's own pages. It expects a session Manager in the request
// context.
type CSRFMiddleware struct {
	logger *slog.Logger
}

func NewCSRFMiddleware(logger *slog.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{
		logger: logger,
	}
}

// ValidateCSRF accepts the token from the form field or the header.
func (cm *CSRFMiddleware) ValidateCSRF(next http.Handler) http.Handler {
	return cm.validate(next, true)
}

// ValidateCSRFHeader accepts the token from the header only and leaves the
// body unread, for requests that are forwarded as they are.
func (cm *CSRFMiddleware) ValidateCSRFHeader(next http.Handler) http.Handler {
	return cm.validate(next, false)
}

func (cm *CSRFMiddleware) validate(next http.Handler, fromForm bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		if crossOrigin(r) {
			cm.logger.Warn("cross-origin request rejected",
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"),
				"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
			)
			http.Error(w, "Cross-origin request rejected", http.StatusForbidden)
			return
		}

		token := r.Header.Get(security.CSRFHeader)
		if token == "" && fromForm {
			token = r.PostFormValue(security.CSRFField)
		}

		if token == "" {
			cm.logger.Warn("missing CSRF token", "path", r.URL.Path)
			http.Error(w, "Missing CSRF token", http.StatusForbidden)
			return
		}

		m, ok := session.FromContext(r.Context())
		if !ok || !m.VerifyCSRF(token) {
			cm.logger.Warn("invalid CSRF token", "path", r.URL.Path)
			http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// crossOrigin reports whether the browser says the request came from another
// site. Requests without either header are left to the token check.
func crossOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "cross-site", "same-site":
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return true
	}
	return u.Host != r.Host
}
