// Package backend is a typed client for the child application's own API:
// agencies, inventory items, categories and incidents.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var ErrUnauthorized = errors.New("backend rejected the session")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Record is one backend resource. The backend owns the schema.
type Record map[string]any

// ID returns the record identifier as a string.
func (r Record) ID() string {
	switch id := r["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// Text returns field as display text.
func (r Record) Text(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case map[string]any:
		if name, ok := v["nombre"].(string); ok {
			return name
		}
		if name, ok := v["name"].(string); ok {
			return name
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Client calls the backend. Its HTTP client is expected to carry the session
// transport, which adds the bearer token.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

func (c *Client) Agencies(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/agencias")
}

// SyncAgencies asks the backend to refresh its agency mirror from the mother
// application.
func (c *Client) SyncAgencies(ctx context.Context) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, "/sincronizar-agencias", nil, &out)
	return out, err
}

func (c *Client) Inventories(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/inventarios")
}

func (c *Client) Inventory(ctx context.Context, id string) (Record, error) {
	return c.one(ctx, http.MethodGet, "/inventarios/"+url.PathEscape(id), nil)
}

func (c *Client) CreateInventory(ctx context.Context, data Record) (Record, error) {
	return c.one(ctx, http.MethodPost, "/inventarios", data)
}

func (c *Client) UpdateInventory(ctx context.Context, id string, data Record) (Record, error) {
	return c.one(ctx, http.MethodPut, "/inventarios/"+url.PathEscape(id), data)
}

func (c *Client) DeleteInventory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/inventarios/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Categories(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/categorias")
}

func (c *Client) CreateCategory(ctx context.Context, data Record) (Record, error) {
	return c.one(ctx, http.MethodPost, "/categorias", data)
}

func (c *Client) UpdateCategory(ctx context.Context, id string, data Record) (Record, error) {
	return c.one(ctx, http.MethodPut, "/categorias/"+url.PathEscape(id), data)
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/categorias/"+url.PathEscape(id), nil, nil)
}

// IncidentsByInventory returns the incident history of one inventory item.
func (c *Client) IncidentsByInventory(ctx context.Context, inventoryID string) ([]Record, error) {
	return c.list(ctx, "/inventarios/"+url.PathEscape(inventoryID)+"/incidentes")
}

func (c *Client) CreateIncident(ctx context.Context, data Record) (Record, error) {
	return c.one(ctx, http.MethodPost, "/incidentes", data)
}

// Ping reports whether the backend answers at all. Any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) list(ctx context.Context, path string) ([]Record, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (c *Client) one(ctx context.Context, method, path string, body Record) (Record, error) {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return nil, err
	}
	return decodeOne(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if target == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeList accepts a bare array or one wrapped in a "data" field.
func decodeList(raw json.RawMessage) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '[' {
		var out []Record
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode list: %w", err)
		}
		return out, nil
	}

	var wrapped struct {
		Data []Record `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return wrapped.Data, nil
}

// decodeOne accepts a bare object or one wrapped in a "data" field.
func decodeOne(raw json.RawMessage) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if inner, ok := out["data"].(map[string]any); ok && len(out) == 1 {
		return Record(inner), nil
	}
	return out, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
