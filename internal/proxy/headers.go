package proxy

import (
	"net/http"
	"net/url"
	"strings"
)

// StripCredentials removes what the browser sent for this application so it
// never reaches the backend: the session cookies and any Authorization header.
// The transport sets the bearer token from the session.
func StripCredentials(req *http.Request, cookiePrefix string) {
	req.Header.Del("Authorization")

	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		if strings.HasPrefix(c.Name, cookiePrefix) {
			continue
		}
		req.AddCookie(c)
	}
}

// OriginPath is the page path a browser request was made from, taken from a
// same-host Referer.
func OriginPath(r *http.Request) string {
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.Host != "" && u.Host != r.Host {
		return ""
	}
	return u.Path
}
