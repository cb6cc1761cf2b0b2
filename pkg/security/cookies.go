package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"

	"github.com/marcogenualdo/sso-child/internal/config"
)

// SameSite maps the configured cookie_same_site value to its http constant.
func SameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// CookieOptions builds the session cookie attributes for the configured server.
func CookieOptions(cfg config.ServerConfig, maxAge time.Duration) *sessions.Options {
	httpOnly := true
	if cfg.CookieHTTPOnly != nil {
		httpOnly = *cfg.CookieHTTPOnly
	}

	return &sessions.Options{
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   cfg.CookieSecure,
		HttpOnly: httpOnly,
		SameSite: SameSite(cfg.CookieSameSite),
	}
}

// DropSetCookie removes Set-Cookie headers already queued for the named
// cookie so that the next write is the only one the browser sees.
func DropSetCookie(h http.Header, name string) {
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return
	}

	kept := values[:0:0]
	prefix := name + "="
	for _, v := range values {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}

	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}
