package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// UserProfile is the mother provider's view of the signed-in user. The child
// holds a read-only copy that is replaced wholesale on every fetch.
type UserProfile struct {
	ID     string
	Name   string
	Email  string
	Avatar string
	Roles  []string
	// Permissions is nil when the provider sent no permission list.
	Permissions []string
	// Attributes holds every field of the provider response.
	Attributes map[string]any
}

func (p *UserProfile) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p *UserProfile) HasPermission(permission string) bool {
	return slices.Contains(p.Permissions, permission)
}

// Clone returns a deep copy so holders never share slices.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Roles = slices.Clone(p.Roles)
	out.Permissions = slices.Clone(p.Permissions)
	out.Attributes = maps.Clone(p.Attributes)
	return &out
}

type profileWire struct {
	ID          json.RawMessage   `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Avatar      string            `json:"avatar"`
	Roles       []json.RawMessage `json:"roles"`
	Permissions []json.RawMessage `json:"permissions"`
}

func (p *UserProfile) UnmarshalJSON(data []byte) error {
	var wire profileWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}

	id, err := decodeID(wire.ID)
	if err != nil {
		return err
	}

	roles, err := decodeNames(wire.Roles)
	if err != nil {
		return fmt.Errorf("roles: %w", err)
	}

	var permissions []string
	if wire.Permissions != nil {
		if permissions, err = decodeNames(wire.Permissions); err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
		if permissions == nil {
			permissions = []string{}
		}
	}

	*p = UserProfile{
		ID:          id,
		Name:        wire.Name,
		Email:       wire.Email,
		Avatar:      wire.Avatar,
		Roles:       roles,
		Permissions: permissions,
		Attributes:  attrs,
	}
	return nil
}

func (p UserProfile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Attributes)+6)
	maps.Copy(out, p.Attributes)

	out["id"] = p.ID
	out["name"] = p.Name
	out["email"] = p.Email
	out["avatar"] = p.Avatar
	out["roles"] = nonNil(p.Roles)
	if p.Permissions != nil {
		out["permissions"] = p.Permissions
	} else {
		delete(out, "permissions")
	}

	return json.Marshal(out)
}

// decodeID accepts both numeric and string identifiers.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return n.String(), nil
}

// decodeNames accepts plain strings or objects carrying a "name" field, the
// two shapes role and permission lists come in.
func decodeNames(items []json.RawMessage) ([]string, error) {
	var names []string
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var named struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(item, &named); err != nil {
				return nil, err
			}
			names = append(names, named.Name)
			continue
		}

		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
