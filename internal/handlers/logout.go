package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/session"
)

type LogoutHandler struct {
	logger *slog.Logger
}

func NewLogoutHandler(logger *slog.Logger) *LogoutHandler {
	return &LogoutHandler{logger: logger}
}

// ServeHTTP clears the local session and sends the browser to the mother
// application's logout so every child application is signed out.
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m, ok := session.FromContext(r.Context())
	if !ok {
		h.logger.Error("no session attached to request", "path", r.URL.Path)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	m.Logout(r.Context()).Write(w, r)

	h.logger.Info("user logged out")
}
