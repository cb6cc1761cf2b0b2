// Package routes declares the view tree and its authorization metadata, and
// merges that metadata from parents into children.
package routes

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/marcogenualdo/sso-child/internal/config"
)

var (
	ErrConflictingRequirement = errors.New("route declares both a permission and a role")
	ErrOpenUnderProtected     = errors.New("open route under a protected parent")
	ErrDuplicatePath          = errors.New("duplicate route path")
)

// Meta is the authorization metadata a route declares for itself.
type Meta struct {
	RequiresAuth bool
	// Open routes are never guarded: the callback and the denial page.
	Open       bool
	Permission string
	Role       string
	Title      string
}

type RequirementKind string

const (
	KindPermission RequirementKind = "permission"
	KindRole       RequirementKind = "role"
)

type Requirement struct {
	Kind  RequirementKind
	Value string
}

func (r Requirement) String() string {
	return string(r.Kind) + ":" + r.Value
}

type Route struct {
	Path     string
	Name     string
	Meta     Meta
	Handler  http.Handler
	Children []Route
}

// Resolved is a mountable route with the metadata of all its ancestors
// merged in.
type Resolved struct {
	Path         string
	Name         string
	Title        string
	Open         bool
	RequiresAuth bool
	// Requirements are all the permission and role checks declared on the
	// route and its ancestors. Every one must hold.
	Requirements []Requirement
	Handler      http.Handler
}

// Flatten walks the tree and returns every route that has a handler.
// Authentication is inherited, requirements accumulate, and a requirement
// implies authentication, so a child is never weaker than its parent.
func Flatten(tree []Route) ([]Resolved, error) {
	var out []Resolved
	seen := make(map[string]bool)

	var walk func(r Route, parent Resolved) error
	walk = func(r Route, parent Resolved) error {
		if r.Meta.Permission != "" && r.Meta.Role != "" {
			return fmt.Errorf("%w: %s", ErrConflictingRequirement, r.Path)
		}

		res := Resolved{
			Path:         joinPath(parent.Path, r.Path),
			Name:         r.Name,
			Title:        r.Meta.Title,
			Open:         r.Meta.Open,
			RequiresAuth: parent.RequiresAuth || r.Meta.RequiresAuth,
			Requirements: append([]Requirement(nil), parent.Requirements...),
			Handler:      r.Handler,
		}
		if res.Title == "" {
			res.Title = parent.Title
		}
		if r.Meta.Permission != "" {
			res.Requirements = append(res.Requirements, Requirement{Kind: KindPermission, Value: r.Meta.Permission})
		}
		if r.Meta.Role != "" {
			res.Requirements = append(res.Requirements, Requirement{Kind: KindRole, Value: r.Meta.Role})
		}
		if len(res.Requirements) > 0 {
			res.RequiresAuth = true
		}

		if res.Open && (parent.RequiresAuth || len(parent.Requirements) > 0) {
			return fmt.Errorf("%w: %s", ErrOpenUnderProtected, res.Path)
		}
		if res.Open && (res.RequiresAuth || len(res.Requirements) > 0) {
			return fmt.Errorf("%w: %s declares itself open and protected", ErrConflictingRequirement, res.Path)
		}

		if res.Handler != nil {
			if seen[res.Path] {
				return fmt.Errorf("%w: %s", ErrDuplicatePath, res.Path)
			}
			seen[res.Path] = true
			out = append(out, res)
		}

		for _, child := range r.Children {
			if err := walk(child, res); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range tree {
		if err := walk(r, Resolved{Path: "/"}); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// SectionMeta turns the deployment's section requirement into route
// metadata. Every kind requires authentication.
func SectionMeta(s config.SectionRequirement) Meta {
	m := Meta{RequiresAuth: true}
	switch s.Kind {
	case "permission":
		m.Permission = s.Value
	case "role":
		m.Role = s.Value
	}
	return m
}

func joinPath(parent, p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(parent, p)
}
