// Package views renders the application's server-side pages.
package views

import (
	"net/http"

	"github.com/marcogenualdo/sso-child/internal/backend"
	"github.com/marcogenualdo/sso-child/internal/identity"
	"github.com/marcogenualdo/sso-child/pkg/security"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"
)

const stylesheet = `
body { font-family: Arial, sans-serif; margin: 0; color: #333; background: #f5f6f8; }
header { display: flex; align-items: center; justify-content: space-between; padding: 12px 24px; background: #1f3a5f; color: #fff; }
header a, header button { color: #fff; }
nav ul { display: flex; gap: 16px; list-style: none; margin: 0; padding: 0; }
nav a.active { font-weight: bold; text-decoration: underline; }
main { max-width: 960px; margin: 24px auto; padding: 0 16px; }
.card { background: #fff; border-radius: 6px; padding: 20px; margin-bottom: 16px; }
.message { max-width: 560px; margin: 80px auto; text-align: center; }
.user { display: flex; align-items: center; gap: 8px; }
.user img { width: 32px; height: 32px; border-radius: 50%; }
.error { color: #b00020; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: 8px; border-bottom: 1px solid #e1e4e8; }
button { cursor: pointer; }
header button { background: none; border: 1px solid #fff; border-radius: 4px; padding: 4px 10px; }
`

// PageLink is a call to action shown on a page.
type PageLink struct {
	Label string
	URL   string
}

// Layout carries what every admin page shows around its content.
type Layout struct {
	AppTitle string
	User     *identity.UserProfile
	Active   string
	// CSRF is the session's form token, echoed by every form on the page.
	CSRF string
}

// Column picks a record field for a table.
type Column struct {
	Header string
	Field  string
}

func Render(w http.ResponseWriter, status int, page Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = page.Render(w)
}

func document(title string, body ...Node) Node {
	return Doctype(
		HTML(
			Lang("es"),
			Head(
				Meta(Charset("UTF-8")),
				Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
				Title(title),
				StyleEl(Raw(stylesheet)),
			),
			Body(body...),
		),
	)
}

// Message is a standalone page with one message and optional actions.
func Message(title, text string, links ...PageLink) Node {
	return document(title,
		Div(Class("message card"),
			H1(Text(title)),
			P(Text(text)),
			Map(links, func(l PageLink) Node {
				return P(A(Href(l.URL), Text(l.Label)))
			}),
		),
	)
}

type section struct {
	name  string
	label string
	path  string
}

var sections = []section{
	{name: "dashboard", label: "Panel", path: "/admin/dashboard"},
	{name: "agencias", label: "Agencias", path: "/admin/agencias"},
	{name: "inventarios", label: "Inventarios", path: "/admin/inventarios"},
	{name: "categorias", label: "Categorías", path: "/admin/categorias"},
}

// Admin wraps content in the admin layout: navigation, the signed-in user
// and the logout action.
func Admin(l Layout, heading string, content ...Node) Node {
	return document(heading+" | "+l.AppTitle,
		Header(
			Strong(Text(l.AppTitle)),
			Nav(
				Ul(Map(sections, func(s section) Node {
					return Li(A(Href(s.path), If(s.name == l.Active, Class("active")), Text(s.label)))
				})),
			),
			userBadge(l.User, l.CSRF),
		),
		Main(
			H1(Text(heading)),
			Group(content),
		),
	)
}

func userBadge(u *identity.UserProfile, csrf string) Node {
	if u == nil {
		return nil
	}

	name := u.Name
	if name == "" {
		name = u.Email
	}

	return Div(Class("user"),
		If(u.Avatar != "", Img(Src(u.Avatar), Alt(name))),
		Span(Text(name)),
		PostButton(csrf, "/auth/logout", "Cerrar sesión"),
	)
}

// Card is a content block.
func Card(children ...Node) Node {
	return Div(Class("card"), Group(children))
}

// ErrorText is an inline error notice.
func ErrorText(text string) Node {
	return P(Class("error"), Text(text))
}

// RecordTable lists records with the given columns. actions, when not nil,
// adds a trailing cell per row.
func RecordTable(records []backend.Record, columns []Column, actions func(backend.Record) Node) Node {
	if len(records) == 0 {
		return P(Text("No hay registros."))
	}

	header := Map(columns, func(c Column) Node { return Th(Text(c.Header)) })
	if actions != nil {
		header = append(header, Th())
	}

	return Table(
		THead(Tr(header)),
		TBody(Map(records, func(r backend.Record) Node {
			cells := Map(columns, func(c Column) Node { return Td(Text(r.Text(c.Field))) })
			if actions != nil {
				cells = append(cells, Td(actions(r)))
			}
			return Tr(cells)
		})),
	)
}

// PostButton is a single-button form posting to action with the session's
// CSRF token.
func PostButton(csrf, action, label string, fields ...Node) Node {
	return El("form", Method("post"), Action(action),
		CSRFInput(csrf),
		Group(fields),
		Button(Type("submit"), Text(label)),
	)
}

// CSRFInput is the hidden field carrying the form token.
func CSRFInput(token string) Node {
	return Input(Type("hidden"), Name(security.CSRFField), Value(token))
}

// Field is a labelled text input.
func Field(label, name, value string, required bool) Node {
	return P(
		El("label",
			Text(label+" "),
			Input(Type("text"), Name(name), Value(value), If(required, Required())),
		),
	)
}
