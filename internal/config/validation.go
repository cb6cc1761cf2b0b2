package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateProvider(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}

	if err := c.validateMotherApp(); err != nil {
		return fmt.Errorf("mother_app config: %w", err)
	}

	if err := c.validateAuthorization(); err != nil {
		return fmt.Errorf("authorization config: %w", err)
	}

	if err := c.validateBackend(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if err := validateAbsoluteURL(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	sameSite := strings.ToLower(c.Server.CookieSameSite)
	if sameSite != "lax" && sameSite != "strict" && sameSite != "none" {
		return fmt.Errorf("invalid cookie_same_site: %s (must be lax, strict, or none)", c.Server.CookieSameSite)
	}

	if sameSite == "none" && !c.Server.CookieSecure {
		return fmt.Errorf("cookie_same_site none requires cookie_secure")
	}

	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if c.Server.SessionTTL < time.Minute {
		return fmt.Errorf("session_ttl must be at least 1 minute")
	}

	if err := validateKey("hash_key", c.Server.HashKey, 32, 64); err != nil {
		return err
	}

	if err := validateKey("block_key", c.Server.BlockKey, 16, 24, 32); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateProvider() error {
	if err := validateAbsoluteURL(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	if c.Provider.Issuer != "" {
		if err := validateAbsoluteURL(c.Provider.Issuer); err != nil {
			return fmt.Errorf("invalid issuer: %w", err)
		}
	}

	if c.Provider.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}

	if c.Provider.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}

	if err := validateAbsoluteURL(c.Provider.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect_uri: %w", err)
	}

	for name, path := range map[string]string{
		"authorize_path": c.Provider.AuthorizePath,
		"token_path":     c.Provider.TokenPath,
		"profile_path":   c.Provider.ProfilePath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /: %q", name, path)
		}
	}

	if c.Provider.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

func (c *Config) validateMotherApp() error {
	if err := validateAbsoluteURL(c.MotherApp.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	return nil
}

func (c *Config) validateAuthorization() error {
	switch c.Authorization.Section.Kind {
	case "none":
		if c.Authorization.Section.Value != "" {
			return fmt.Errorf("section value %q given for kind none", c.Authorization.Section.Value)
		}
	case "permission", "role":
		if c.Authorization.Section.Value == "" {
			return fmt.Errorf("section value is required for kind %s", c.Authorization.Section.Kind)
		}
	default:
		return fmt.Errorf("invalid section kind: %s (must be permission, role, or none)", c.Authorization.Section.Kind)
	}

	if c.Authorization.Denial != "directory" && c.Authorization.Denial != "local" {
		return fmt.Errorf("invalid denial: %s (must be directory or local)", c.Authorization.Denial)
	}

	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("url is required")
	}

	if err := validateAbsoluteURL(c.Backend.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("invalid type: %s (must be memory or redis)", c.Cache.Type)
	}

	if c.Cache.TTL != nil && *c.Cache.TTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}

	if c.Cache.Type == "redis" {
		if c.Cache.Redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateKey accepts an empty key (one is generated at startup) or a base64
// value decoding to one of the allowed lengths.
func validateKey(name, value string, lengths ...int) error {
	if value == "" {
		return nil
	}

	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s is not valid base64: %w", name, err)
	}

	for _, l := range lengths {
		if len(key) == l {
			return nil
		}
	}

	return fmt.Errorf("%s must decode to one of %v bytes, got %d", name, lengths, len(key))
}
