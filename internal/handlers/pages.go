package handlers

import (
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/views"
)

// Unauthorized is the local denial page: signed in, but not entitled.
func Unauthorized(directoryURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views.Render(w, http.StatusForbidden, views.Message(
			"Acceso denegado",
			"Su cuenta no tiene permiso para acceder a esta aplicación.",
			views.PageLink{Label: "Volver al directorio de aplicaciones", URL: directoryURL},
		))
	}
}

// SessionExpired answers a navigation whose stored token was rejected. The
// session is already cleared, so following the link starts a new sign-in.
func SessionExpired() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		retry := HomePath
		if r.Method == http.MethodGet {
			retry = r.URL.RequestURI()
		}

		views.Render(w, http.StatusUnauthorized, views.Message(
			"Sesión expirada",
			"Su sesión ya no es válida.",
			views.PageLink{Label: "Iniciar sesión", URL: retry},
		))
	}
}
