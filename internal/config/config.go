package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMotherAppURL is used when neither the file nor MOTHER_APP_URL names
// the mother application.
const DefaultMotherAppURL = "http://localhost:5173"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	MotherApp     MotherAppConfig     `yaml:"mother_app"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Backend       BackendConfig       `yaml:"backend"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
	UI            UIConfig            `yaml:"ui"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	CookieName     string        `yaml:"cookie_name"`
	CookieDomain   string        `yaml:"cookie_domain"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	CookieHTTPOnly *bool         `yaml:"cookie_http_only"`
	CookieSameSite string        `yaml:"cookie_same_site"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	// HashKey and BlockKey are base64 encoded securecookie keys.
	HashKey  string `yaml:"hash_key"`
	BlockKey string `yaml:"block_key"`
	// TrustedProxies lists the addresses or CIDRs whose X-Real-IP and
	// X-Forwarded-For headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if addr, err := netip.ParseAddr(raw); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// ProviderConfig describes the mother identity provider.
type ProviderConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Issuer        string        `yaml:"issuer,omitempty"`
	ClientID      string        `yaml:"client_id"`
	RedirectURI   string        `yaml:"redirect_uri"`
	Scopes        []string      `yaml:"scopes"`
	AuthorizePath string        `yaml:"authorize_path"`
	TokenPath     string        `yaml:"token_path"`
	ProfilePath   string        `yaml:"profile_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

type MotherAppConfig struct {
	URL           string `yaml:"url"`
	LogoutPath    string `yaml:"logout_path"`
	DirectoryPath string `yaml:"directory_path"`
}

type AuthorizationConfig struct {
	SuperAdminRole string             `yaml:"super_admin_role"`
	Section        SectionRequirement `yaml:"section"`
	Denial         string             `yaml:"denial"`
}

// SectionRequirement is the requirement applied to the protected admin
// section. Kind is one of "permission", "role" or "none".
type SectionRequirement struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type BackendConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	LoginPathMarker string        `yaml:"login_path_marker"`
}

type CacheConfig struct {
	Type  string         `yaml:"type"`
	TTL   *time.Duration `yaml:"ttl"`
	Redis *RedisConfig   `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Cleanup           time.Duration `yaml:"cleanup"`
}

type MetricsConfig struct {
	Enable *bool  `yaml:"enable"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type UIConfig struct {
	Title string `yaml:"title"`
}

// Load reads the YAML file at path, applies defaults and then environment
// overrides. An empty path yields a configuration built from defaults and the
// environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.loadFromEnv()
	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = "sso-child"
	}
	if c.Server.CookieHTTPOnly == nil {
		httpOnly := true
		c.Server.CookieHTTPOnly = &httpOnly
	}
	if c.Server.CookieSameSite == "" {
		c.Server.CookieSameSite = "lax"
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 8 * time.Hour
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://localhost:8000"
	}
	if c.Provider.AuthorizePath == "" {
		c.Provider.AuthorizePath = "/auth/initiate"
	}
	if c.Provider.TokenPath == "" {
		c.Provider.TokenPath = "/oauth/token"
	}
	if c.Provider.ProfilePath == "" {
		c.Provider.ProfilePath = "/api/user"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Provider.RedirectURI == "" && c.Server.BaseURL != "" {
		c.Provider.RedirectURI = c.Server.BaseURL + "/callback"
	}

	if c.MotherApp.URL == "" {
		c.MotherApp.URL = DefaultMotherAppURL
	}
	if c.MotherApp.LogoutPath == "" {
		c.MotherApp.LogoutPath = "/logout"
	}
	if c.MotherApp.DirectoryPath == "" {
		c.MotherApp.DirectoryPath = "/apps"
	}

	if c.Authorization.SuperAdminRole == "" {
		c.Authorization.SuperAdminRole = "Super Admin"
	}
	if c.Authorization.Section.Kind == "" {
		c.Authorization.Section.Kind = "none"
	}
	if c.Authorization.Denial == "" {
		c.Authorization.Denial = "directory"
	}

	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.LoginPathMarker == "" {
		c.Backend.LoginPathMarker = "/login"
	}

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}
	if c.Cache.TTL == nil {
		// Profiles are fetched on every navigation unless caching is asked for.
		var ttl time.Duration
		c.Cache.TTL = &ttl
	}
	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if c.Cache.Redis.PoolSize == 0 {
			c.Cache.Redis.PoolSize = 10
		}
		if c.Cache.Redis.MaxRetries == 0 {
			c.Cache.Redis.MaxRetries = 3
		}
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.Cleanup == 0 {
		c.RateLimit.Cleanup = 10 * time.Minute
	}

	if c.Metrics.Enable == nil {
		enable := true
		c.Metrics.Enable = &enable
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.UI.Title == "" {
		c.UI.Title = "Sistema de Inventario IT"
	}
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("MOTHER_API_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		c.Provider.ClientID = v
	}
	if v := os.Getenv("REDIRECT_URI"); v != "" {
		c.Provider.RedirectURI = v
	}
	if v := os.Getenv("MOTHER_APP_URL"); v != "" {
		c.MotherApp.URL = v
	}
	if v := os.Getenv("API_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("SESSION_HASH_KEY"); v != "" {
		c.Server.HashKey = v
	}
	if v := os.Getenv("SESSION_BLOCK_KEY"); v != "" {
		c.Server.BlockKey = v
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
			c.Cache.Redis.Password = envPassword
		}
	}
}

// LogoutURL is the mother application's centralized logout page.
func (c *Config) LogoutURL() string {
	return c.MotherApp.URL + c.MotherApp.LogoutPath
}

// DirectoryURL is the mother application's application directory.
func (c *Config) DirectoryURL() string {
	return c.MotherApp.URL + c.MotherApp.DirectoryPath
}
