package guard

import (
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/config"
	"github.com/marcogenualdo/sso-child/internal/routes"
)

// UnauthorizedPath is the local denial page.
const UnauthorizedPath = "/unauthorized"

// DenialPolicy answers a signed-in user who lacks a route's requirement. It
// must respond differently from a sign-in redirect.
type DenialPolicy interface {
	Deny(w http.ResponseWriter, r *http.Request, route routes.Resolved, failed routes.Requirement)
}

// DirectoryDenial sends the user back to the mother application's directory
// of applications.
type DirectoryDenial struct {
	URL string
}

func (d DirectoryDenial) Deny(w http.ResponseWriter, r *http.Request, _ routes.Resolved, _ routes.Requirement) {
	http.Redirect(w, r, d.URL, http.StatusFound)
}

// LocalDenial sends the user to this application's unauthorized page.
type LocalDenial struct {
	Path string
}

func (d LocalDenial) Deny(w http.ResponseWriter, r *http.Request, _ routes.Resolved, _ routes.Requirement) {
	path := d.Path
	if path == "" {
		path = UnauthorizedPath
	}
	http.Redirect(w, r, path, http.StatusFound)
}

func NewDenialPolicy(cfg *config.Config) DenialPolicy {
	if cfg.Authorization.Denial == "local" {
		return LocalDenial{Path: UnauthorizedPath}
	}
	return DirectoryDenial{URL: cfg.DirectoryURL()}
}
