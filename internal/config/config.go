package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/jmelchers/arvon/internal/core"
)

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	Session SessionConfig `yaml:"session"`
	Seal    SealConfig    `yaml:"seal"`
	Lease   LeaseConfig   `yaml:"lease"`
	Audit   AuditConfig   `yaml:"audit"`

	Verifiers []VerifierConfig `yaml:"verifiers"`
	Backends  []BackendConfig  `yaml:"backends"`

	// Seed data applied at startup. Roles, policies and identity mappings
	// can also be managed at runtime through the sys API.
	Roles            []core.Role            `yaml:"roles"`
	Policies         []core.Policy          `yaml:"policies"`
	IdentityMappings []core.IdentityMapping `yaml:"identity_mappings"`
}

// SessionConfig controls session token minting.
type SessionConfig struct {
	// SigningKey is the hex-encoded HMAC key for session tokens.
	SigningKey string `yaml:"signing_key"`

	// TTL is the default session lifetime; identity mappings may cap it
	// further but never extend it.
	TTL time.Duration `yaml:"ttl"`
}

// SealConfig controls the storage barrier.
type SealConfig struct {
	// MasterKey optionally auto-unseals the barrier at startup.
	// Leave empty in production and unseal through the sys API.
	MasterKey string `yaml:"master_key,omitempty"`
}

// LeaseConfig tunes the lease manager and its expiry sweep.
type LeaseConfig struct {
	// SweepInterval is how often the expiry sweep scans for expired leases.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// BackendTimeout bounds every backend generate/revoke call.
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	// RevokeRetryCeiling is the number of revocation attempts per sweep
	// before a lease is marked revocation_failed and escalated.
	RevokeRetryCeiling int `yaml:"revoke_retry_ceiling"`

	// RevokeBackoffBase and RevokeBackoffCap shape the exponential
	// backoff between revocation retries.
	RevokeBackoffBase time.Duration `yaml:"revoke_backoff_base"`
	RevokeBackoffCap  time.Duration `yaml:"revoke_backoff_cap"`
}

// VerifierConfig holds configuration for an identity verifier.
type VerifierConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`    // e.g., "oidc", "static"
	Config map[string]any `yaml:",inline"` // capture remaining fields
}

// BackendConfig holds configuration for a credential backend instance.
type BackendConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`    // e.g., "postgres", "stub"
	Config map[string]any `yaml:",inline"` // capture remaining fields
}

// AuditConfig holds configuration for auditing.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // e.g., "file", "memory"
	Path    string `yaml:"path"`
}

// Defaults used when the corresponding config values are absent.
const (
	DefaultListen             = ":8080"
	DefaultSweepInterval      = 5 * time.Second
	DefaultBackendTimeout     = 10 * time.Second
	DefaultRevokeRetryCeiling = 5
	DefaultRevokeBackoffBase  = 250 * time.Millisecond
	DefaultRevokeBackoffCap   = 8 * time.Second
)

// Load reads and parses the configuration file at the given path.
// It returns a Config struct or an error if loading/parsing/validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Lease.SweepInterval <= 0 {
		c.Lease.SweepInterval = DefaultSweepInterval
	}
	if c.Lease.BackendTimeout <= 0 {
		c.Lease.BackendTimeout = DefaultBackendTimeout
	}
	if c.Lease.RevokeRetryCeiling <= 0 {
		c.Lease.RevokeRetryCeiling = DefaultRevokeRetryCeiling
	}
	if c.Lease.RevokeBackoffBase <= 0 {
		c.Lease.RevokeBackoffBase = DefaultRevokeBackoffBase
	}
	if c.Lease.RevokeBackoffCap <= 0 {
		c.Lease.RevokeBackoffCap = DefaultRevokeBackoffCap
	}
}

func (c *Config) Validate() error {
	if c.Session.SigningKey == "" {
		return fmt.Errorf("session.signing_key is required")
	}

	validVerifiers := make(map[string]struct{})
	for idx, v := range c.Verifiers {
		if v.Name == "" {
			return fmt.Errorf("verifier at index %d has empty name", idx)
		}
		if _, dup := validVerifiers[v.Name]; dup {
			return fmt.Errorf("verifier name '%s' is not unique", v.Name)
		}
		validVerifiers[v.Name] = struct{}{}
	}

	validBackends := make(map[string]struct{})
	for idx, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend at index %d has empty name", idx)
		}
		if _, dup := validBackends[b.Name]; dup {
			return fmt.Errorf("backend name '%s' is not unique", b.Name)
		}
		validBackends[b.Name] = struct{}{}
	}

	for _, role := range c.Roles {
		if err := role.Validate(); err != nil {
			return err
		}
		if _, known := validBackends[role.Backend]; !known {
			return fmt.Errorf("role '%s' references unknown backend '%s'", role.Name, role.Backend)
		}
	}

	for _, p := range c.Policies {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	for _, m := range c.IdentityMappings {
		if m.Name == "" {
			return fmt.Errorf("identity mapping with empty name")
		}
		if m.Subject == "" {
			return fmt.Errorf("identity mapping '%s' missing subject", m.Name)
		}
		if len(m.Policies) == 0 {
			return fmt.Errorf("identity mapping '%s' grants no policies", m.Name)
		}
		if m.Verifier != "" {
			if _, known := validVerifiers[m.Verifier]; !known {
				return fmt.Errorf("identity mapping '%s' references unknown verifier '%s'", m.Name, m.Verifier)
			}
		}
	}

	if c.Audit.Enabled && c.Audit.Type == "file" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required for file audit")
	}

	return nil
}
