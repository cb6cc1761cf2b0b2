package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/session"
	"github.com/marcogenualdo/sso-child/internal/transport"
	"github.com/marcogenualdo/sso-child/internal/views"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"
)

var (
	agencyColumns = []views.Column{
		{Header: "Código", Field: "codigo"},
		{Header: "Nombre", Field: "nombre"},
		{Header: "Ciudad", Field: "ciudad"},
	}
	inventoryColumns = []views.Column{
		{Header: "ID", Field: "id"},
		{Header: "Nombre", Field: "nombre"},
		{Header: "Serie", Field: "serie"},
		{Header: "Categoría", Field: "categoria"},
		{Header: "Agencia", Field: "agencia"},
		{Header: "Estado", Field: "estado"},
	}
	categoryColumns = []views.Column{
		{Header: "ID", Field: "id"},
		{Header: "Nombre", Field: "nombre"},
		{Header: "Descripción", Field: "descripcion"},
	}
	incidentColumns = []views.Column{
		{Header: "Fecha", Field: "fecha"},
		{Header: "Descripción", Field: "descripcion"},
		{Header: "Estado", Field: "estado"},
	}
)

// AdminHandler serves the protected admin views. Every backend call goes
// through the session transport.
type AdminHandler struct {
	backend  *backend.Client
	appTitle string
	logger   *slog.Logger
}

func NewAdminHandler(b *backend.Client, appTitle string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		backend:  b,
		appTitle: appTitle,
		logger:   logger,
	}
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	layout := h.layout(r, "dashboard")

	var name string
	var roles []string
	if layout.User != nil {
		name, roles = layout.User.Name, layout.User.Roles
	}

	views.Render(w, http.StatusOK, views.Admin(layout, h.appTitle,
		views.Card(
			P(Textf("Bienvenido, %s.", name)),
			If(len(roles) > 0, P(Text("Roles: "+strings.Join(roles, ", ")))),
		),
	))
}

func (h *AdminHandler) Agencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	agencies, err := h.backend.Agencies(h.ctx(r))
	if err != nil {
		h.backendFailure(w, r, "agencias", "Gestión de Agencias", err)
		return
	}

	l := h.layout(r, "agencias")
	views.Render(w, http.StatusOK, views.Admin(l, "Gestión de Agencias",
		views.Card(views.PostButton(l.CSRF, "/admin/agencias/sincronizar", "Sincronizar con la App Madre")),
		views.Card(views.RecordTable(agencies, agencyColumns, nil)),
	))
}

// SyncAgencies asks the backend to refresh its agencies from the mother
// application.
func (h *AdminHandler) SyncAgencies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if _, err := h.backend.SyncAgencies(h.ctx(r)); err != nil {
		h.backendFailure(w, r, "agencias", "Gestión de Agencias", err)
		return
	}

	h.logger.Info("agencies synchronized")
	http.Redirect(w, r, "/admin/agencias", http.StatusSeeOther)
}

func (h *AdminHandler) Inventories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if _, err := h.backend.CreateInventory(h.ctx(r), formRecord(r, "nombre", "serie", "categoria_id", "agencia_id")); err != nil {
			h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
			return
		}
		http.Redirect(w, r, "/admin/inventarios", http.StatusSeeOther)
		return
	default:
		methodNotAllowed(w)
		return
	}

	items, err := h.backend.Inventories(h.ctx(r))
	if err != nil {
		h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
		return
	}

	l := h.layout(r, "inventarios")
	views.Render(w, http.StatusOK, views.Admin(l, "Gestión de Inventarios",
		views.Card(views.RecordTable(items, inventoryColumns, func(rec backend.Record) Node {
			return Group{
				A(Href("/admin/inventarios/"+rec.ID()), Text("Ver")),
				views.PostButton(l.CSRF, "/admin/inventarios/"+rec.ID()+"/eliminar", "Eliminar"),
			}
		})),
		views.Card(
			H2(Text("Nuevo equipo")),
			El("form", Method("post"), Action("/admin/inventarios"),
				views.CSRFInput(l.CSRF),
				views.Field("Nombre", "nombre", "", true),
				views.Field("Serie", "serie", "", true),
				views.Field("Categoría (ID)", "categoria_id", "", false),
				views.Field("Agencia (ID)", "agencia_id", "", false),
				Button(Type("submit"), Text("Guardar")),
			),
		),
	))
}

// Inventory shows one item with its incident history.
func (h *AdminHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id := chi.URLParam(r, "id")
	ctx := h.ctx(r)

	item, err := h.backend.Inventory(ctx, id)
	if err != nil {
		h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
		return
	}

	incidents, err := h.backend.IncidentsByInventory(ctx, id)
	if err != nil {
		h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
		return
	}

	l := h.layout(r, "inventarios")
	views.Render(w, http.StatusOK, views.Admin(l, "Equipo "+item.Text("nombre"),
		views.Card(views.RecordTable([]backend.Record{item}, inventoryColumns, nil)),
		views.Card(
			H2(Text("Incidentes")),
			views.RecordTable(incidents, incidentColumns, nil),
			views.PostButton(l.CSRF, "/admin/inventarios/"+id+"/incidentes", "Registrar incidente",
				views.Field("Descripción", "descripcion", "", true),
			),
		),
	))
}

func (h *AdminHandler) DeleteInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := h.backend.DeleteInventory(h.ctx(r), chi.URLParam(r, "id")); err != nil {
		h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
		return
	}
	http.Redirect(w, r, "/admin/inventarios", http.StatusSeeOther)
}

func (h *AdminHandler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	incident := formRecord(r, "descripcion")
	incident["inventario_id"] = id

	if _, err := h.backend.CreateIncident(h.ctx(r), incident); err != nil {
		h.backendFailure(w, r, "inventarios", "Gestión de Inventarios", err)
		return
	}
	http.Redirect(w, r, "/admin/inventarios/"+id, http.StatusSeeOther)
}

func (h *AdminHandler) Categories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if _, err := h.backend.CreateCategory(h.ctx(r), formRecord(r, "nombre", "descripcion")); err != nil {
			h.backendFailure(w, r, "categorias", "Gestión de Categorías", err)
			return
		}
		http.Redirect(w, r, "/admin/categorias", http.StatusSeeOther)
		return
	default:
		methodNotAllowed(w)
		return
	}

	categories, err := h.backend.Categories(h.ctx(r))
	if err != nil {
		h.backendFailure(w, r, "categorias", "Gestión de Categorías", err)
		return
	}

	l := h.layout(r, "categorias")
	views.Render(w, http.StatusOK, views.Admin(l, "Gestión de Categorías",
		views.Card(views.RecordTable(categories, categoryColumns, func(rec backend.Record) Node {
			return views.PostButton(l.CSRF, "/admin/categorias/"+rec.ID()+"/eliminar", "Eliminar")
		})),
		views.Card(
			H2(Text("Nueva categoría")),
			views.PostButton(l.CSRF, "/admin/categorias", "Guardar",
				views.Field("Nombre", "nombre", "", true),
				views.Field("Descripción", "descripcion", "", false),
			),
		),
	))
}

func (h *AdminHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := h.backend.DeleteCategory(h.ctx(r), chi.URLParam(r, "id")); err != nil {
		h.backendFailure(w, r, "categorias", "Gestión de Categorías", err)
		return
	}
	http.Redirect(w, r, "/admin/categorias", http.StatusSeeOther)
}

// ctx marks backend calls as made from the current page.
func (h *AdminHandler) ctx(r *http.Request) context.Context {
	return transport.WithOrigin(r.Context(), r.URL.Path)
}

func (h *AdminHandler) layout(r *http.Request, active string) views.Layout {
	l := views.Layout{AppTitle: h.appTitle, Active: active}
	if m, ok := session.FromContext(r.Context()); ok {
		l.User = m.User()
		token, err := m.CSRFToken()
		if err != nil {
			h.logger.Warn("failed to issue csrf token", "error", err)
		}
		l.CSRF = token
	}
	return l
}

// backendFailure renders a backend error inside the admin layout. A 401 has
// already cleared the local session in the transport.
func (h *AdminHandler) backendFailure(w http.ResponseWriter, r *http.Request, active, heading string, err error) {
	status := http.StatusBadGateway
	message := "No se pudo contactar con el servidor de la aplicación."

	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		status = http.StatusUnauthorized
		message = "Su sesión ha expirado. Recargue la página para iniciar sesión de nuevo."
	case errors.As(err, &statusErr) && statusErr.StatusCode < 500:
		status = statusErr.StatusCode
		message = "El servidor rechazó la operación."
		if statusErr.Message != "" {
			message += " " + statusErr.Message
		}
	}

	h.logger.Warn("backend call failed", "path", r.URL.Path, "status", status, "error", err)

	views.Render(w, status, views.Admin(h.layout(r, active), heading, views.Card(views.ErrorText(message))))
}

func formRecord(r *http.Request, fields ...string) backend.Record {
	rec := backend.Record{}
	for _, f := range fields {
		if v := strings.TrimSpace(r.PostForm.Get(f)); v != "" {
			rec[f] = v
		}
	}
	return rec
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
