// Package config loads the service's top-level configuration: a YAML
// file with environment-variable overrides, file-first since this
// service's configuration surface is too large for flags alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthProviderConfig describes one configured identity provider.
type AuthProviderConfig struct {
	Kind string `yaml:"kind"` // "internal" or "external"
	Name string `yaml:"name"`
}

// Config is the assembled configuration for one burrowd process.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DatabaseURI string `yaml:"database_uri"`

	ReadableStorage []string `yaml:"readable_storage"`
	WritableStorage string   `yaml:"writable_storage"`

	AuthProviders  []AuthProviderConfig `yaml:"auth_providers"`
	AllowAnonymous bool                 `yaml:"allow_anonymous"`

	PolicyPath    string   `yaml:"policy_path"`
	ScopeUniverse []string `yaml:"scope_universe"`

	CompressionMinBytes int     `yaml:"compression_min_bytes"`
	CompressionRatioMin float64 `yaml:"compression_ratio_min"`

	AccessTokenMaxAge  time.Duration `yaml:"access_token_max_age"`
	RefreshTokenMaxAge time.Duration `yaml:"refresh_token_max_age"`
	SessionMaxAge      time.Duration `yaml:"session_max_age"`

	// SigningKeyIDs/SigningKeySecrets are parallel lists: index 0 is
	// the key used to sign new tokens, and a token is verified with
	// the entry whose ID matches its kid header (key rotation). Secrets are read from YAML
	// for development; operators are expected to supply them via
	// environment/secret-store indirection in production, which
	// ApplyEnv does not attempt to generalize.
	SigningKeyIDs     []string `yaml:"signing_key_ids"`
	SigningKeySecrets []string `yaml:"signing_key_secrets"`

	// DefaultRoles names the roles assigned to a Principal the first
	// time a given provider identity authenticates.
	DefaultRoles []string `yaml:"default_roles"`
	// Roles is the static catalog resolving a role name to the scopes
	// it grants (a distinct namespace from the access-policy YAML's
	// own "role" references, see pkg/auth.RoleCatalog).
	Roles map[string][]string `yaml:"roles"`

	ObjectCacheBytes int64 `yaml:"object_cache_bytes"`

	SchedulerPolicyFullReload    time.Duration `yaml:"scheduler_policy_full_reload"`
	SchedulerPolicyPartialUpdate time.Duration `yaml:"scheduler_policy_partial_update"`
	SchedulerSessionPurge        time.Duration `yaml:"scheduler_session_purge"`
	SchedulerAPIKeyPurge         time.Duration `yaml:"scheduler_api_key_purge"`
}

// DefaultConfig returns a Config with every field set to a safe
// development default: SQLite in a local file, no external storage
// roots, anonymous access disabled, a 1 MiB object cache.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  "127.0.0.1:8000",
		DatabaseURI: "sqlite:./burrow.db",

		ReadableStorage: nil,
		WritableStorage: "./data",

		AuthProviders:  nil,
		AllowAnonymous: false,

		PolicyPath:    "./access_policy.yml",
		ScopeUniverse: []string{"read:metadata", "read:data", "write:metadata", "write:data", "create", "delete", "admin"},

		CompressionMinBytes: 1000,
		CompressionRatioMin: 1.11,

		AccessTokenMaxAge:  15 * time.Minute,
		RefreshTokenMaxAge: 7 * 24 * time.Hour,
		SessionMaxAge:      30 * 24 * time.Hour,

		SigningKeyIDs:     []string{"dev"},
		SigningKeySecrets: []string{"change-me-in-production-change-me"},

		DefaultRoles: []string{"user"},
		Roles: map[string][]string{
			"user":  {"read:metadata", "read:data", "write:metadata", "write:data", "create", "delete"},
			"admin": {"read:metadata", "read:data", "write:metadata", "write:data", "create", "delete", "admin"},
		},

		ObjectCacheBytes: 1 << 20,

		SchedulerPolicyFullReload:    30 * time.Minute,
		SchedulerPolicyPartialUpdate: time.Minute,
		SchedulerSessionPurge:        time.Hour,
		SchedulerAPIKeyPurge:         time.Hour,
	}
}

// Load reads path as YAML into a Config seeded with DefaultConfig,
// then applies environment-variable overrides via ApplyEnv.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays BURROW_-prefixed environment variables onto cfg,
// for the handful of settings operators most often need to override
// per-deployment without editing the YAML file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("BURROW_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BURROW_DATABASE_URI"); v != "" {
		c.DatabaseURI = v
	}
	if v := os.Getenv("BURROW_WRITABLE_STORAGE"); v != "" {
		c.WritableStorage = v
	}
	if v := os.Getenv("BURROW_POLICY_PATH"); v != "" {
		c.PolicyPath = v
	}
	if v := os.Getenv("BURROW_ALLOW_ANONYMOUS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AllowAnonymous = b
		}
	}
}

// Validate reports the first configuration error found: an empty
// listen address, database URI, or writable storage root, a
// compression ratio threshold not above 1.0, an empty scope
// universe, or missing or mismatched signing key lists. The
// compression byte threshold is not checked.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("config: database_uri must not be empty")
	}
	if c.WritableStorage == "" {
		return fmt.Errorf("config: writable_storage must not be empty")
	}
	if c.CompressionRatioMin <= 1.0 {
		return fmt.Errorf("config: compression_ratio_min must be greater than 1.0, got %f", c.CompressionRatioMin)
	}
	if len(c.ScopeUniverse) == 0 {
		return fmt.Errorf("config: scope_universe must not be empty")
	}
	if len(c.SigningKeyIDs) == 0 || len(c.SigningKeyIDs) != len(c.SigningKeySecrets) {
		return fmt.Errorf("config: signing_key_ids and signing_key_secrets must be non-empty and equal length")
	}
	return nil
}

// RoleScopes returns the configured scope names for role, or nil if
// role is not defined in Roles.
func (c *Config) RoleScopes(role string) []string {
	return c.Roles[role]
}
