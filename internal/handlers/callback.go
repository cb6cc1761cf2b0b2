package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/internal/views"
)

// HomePath is where a completed sign-in lands.
const HomePath = "/admin/dashboard"

type CallbackHandler struct {
	logger *slog.Logger
}

func NewCallbackHandler(logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{logger: logger}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m, ok := session.FromContext(r.Context())
	if !ok {
		h.logger.Error("no session attached to request", "path", r.URL.Path)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("provider returned an error",
			"error", errParam,
			"description", query.Get("error_description"),
		)
		m.LogoutLocal(r.Context())
		views.Render(w, http.StatusBadRequest, views.Message(
			"No se pudo iniciar sesión",
			"El proveedor de identidad rechazó la solicitud: "+errParam,
			restartLink,
		))
		return
	}

	if err := m.HandleCallback(r.Context(), query.Get("code")); err != nil {
		h.renderFailure(w, err)
		return
	}

	h.logger.Info("authentication successful", "user_id", m.User().ID)

	http.Redirect(w, r, HomePath, http.StatusFound)
}

var restartLink = views.PageLink{Label: "Iniciar sesión de nuevo", URL: HomePath}

func (h *CallbackHandler) renderFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrMissingVerifier):
		h.logger.Info("callback without a sign-in in flight", "error", err)
		views.Render(w, http.StatusBadRequest, views.Message(
			"Inicio de sesión caducado",
			"No encontramos un inicio de sesión en curso para este navegador. Vuelva a iniciar sesión.",
			restartLink,
		))

	case errors.Is(err, session.ErrInvalidSession):
		h.logger.Warn("profile fetch failed after sign-in", "error", err)
		views.Render(w, http.StatusUnauthorized, views.Message(
			"Sesión inválida",
			"No se pudo obtener su perfil del proveedor de identidad.",
			restartLink,
		))

	default:
		h.logger.Error("callback failed", "error", err)
		views.Render(w, http.StatusBadGateway, views.Message(
			"No se pudo iniciar sesión",
			"El intercambio del código de autorización falló. Inténtelo de nuevo.",
			restartLink,
		))
	}
}
