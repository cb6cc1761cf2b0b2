package devstack

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Backend is an in-memory child API. Every route requires a bearer token
// accepted by Validate.
type Backend struct {
	Validate func(token string) bool

	mu     sync.Mutex
	nextID int
	tables map[string]map[string]map[string]any
	synced []map[string]any
	logger *slog.Logger
}

func NewBackend(validate func(string) bool, logger *slog.Logger) *Backend {
	return &Backend{
		Validate: validate,
		tables: map[string]map[string]map[string]any{
			"agencias":    {},
			"inventarios": {},
			"categorias":  {},
			"incidentes":  {},
		},
		synced: []map[string]any{
			{"codigo": "AG-01", "nombre": "Casa Matriz", "ciudad": "Quito"},
			{"codigo": "AG-02", "nombre": "Sucursal Norte", "ciudad": "Ibarra"},
		},
		logger: logger,
	}
}

func (b *Backend) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.requireToken)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/agencias", b.list("agencias"))
	r.Post("/sincronizar-agencias", b.syncAgencies)

	r.Get("/inventarios", b.list("inventarios"))
	r.Post("/inventarios", b.create("inventarios"))
	r.Get("/inventarios/{id}", b.show("inventarios"))
	r.Put("/inventarios/{id}", b.update("inventarios"))
	r.Delete("/inventarios/{id}", b.remove("inventarios"))
	r.Get("/inventarios/{id}/incidentes", b.incidents)

	r.Get("/categorias", b.list("categorias"))
	r.Post("/categorias", b.create("categorias"))
	r.Put("/categorias/{id}", b.update("categorias"))
	r.Delete("/categorias/{id}", b.remove("categorias"))

	r.Post("/incidentes", b.create("incidentes"))
	return r
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok || b.Validate == nil || !b.Validate(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) list(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		rows := b.sorted(table, nil)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"data": rows})
	}
}

func (b *Backend) show(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		row, ok := b.tables[table][chi.URLParam(r, "id")]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No encontrado"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": row})
	}
}

func (b *Backend) create(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil || len(row) == 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Datos inválidos"})
			return
		}

		b.mu.Lock()
		b.nextID++
		row["id"] = b.nextID
		if table == "incidentes" {
			row["fecha"] = time.Now().Format(time.DateOnly)
			row["estado"] = "abierto"
		}
		b.tables[table][strconv.Itoa(b.nextID)] = row
		b.mu.Unlock()

		b.logger.Debug("record created", "table", table, "id", row["id"])
		writeJSON(w, http.StatusCreated, map[string]any{"data": row})
	}
}

func (b *Backend) update(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Datos inválidos"})
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		row, ok := b.tables[table][chi.URLParam(r, "id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "No encontrado"})
			return
		}
		for k, v := range patch {
			if k != "id" {
				row[k] = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": row})
	}
}

func (b *Backend) remove(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		delete(b.tables[table], chi.URLParam(r, "id"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (b *Backend) incidents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	rows := b.sorted("incidentes", func(row map[string]any) bool {
		return stringField(row["inventario_id"]) == id
	})
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, rows)
}

// syncAgencies copies the mother application's agencies into the local table.
func (b *Backend) syncAgencies(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	for _, agency := range b.synced {
		code := agency["codigo"].(string)
		row := map[string]any{"id": code}
		for k, v := range agency {
			row[k] = v
		}
		b.tables["agencias"][code] = row
	}
	count := len(b.synced)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"message": "Agencias sincronizadas", "total": count})
}

// sorted must be called with mu held.
func (b *Backend) sorted(table string, keep func(map[string]any) bool) []map[string]any {
	rows := make([]map[string]any, 0, len(b.tables[table]))
	for _, row := range b.tables[table] {
		if keep == nil || keep(row) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		x, y := stringField(rows[i]["id"]), stringField(rows[j]["id"])
		if len(x) != len(y) {
			return len(x) < len(y)
		}
		return x < y
	})
	return rows
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func bearer(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}
