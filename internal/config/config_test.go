package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
listen: ":8200"
session:
  signing_key: "6d61737465722d6b6579"
  ttl: 1h
lease:
  sweep_interval: 2s
verifiers:
  - name: dev
    type: static
    assertions:
      alice-token:
        sub: alice@example.com
backends:
  - name: pg-main
    type: postgres
    dsn: "postgres://localhost:5432/app"
roles:
  - name: readonly
    backend: pg-main
    default_ttl: 1h
    max_ttl: 24h
policies:
  - name: db-reader
    rules:
      - path: "creds/readonly"
        capabilities: [create, update, delete, read]
identity_mappings:
  - name: everyone
    subject: "*"
    verifier: dev
    policies: [db-reader]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arvon.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != ":8200" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Lease.SweepInterval != 2*time.Second {
		t.Errorf("SweepInterval = %v", cfg.Lease.SweepInterval)
	}
	// unset lease values fall back to defaults
	if cfg.Lease.RevokeRetryCeiling != DefaultRevokeRetryCeiling {
		t.Errorf("RevokeRetryCeiling = %d", cfg.Lease.RevokeRetryCeiling)
	}
	if cfg.Lease.BackendTimeout != DefaultBackendTimeout {
		t.Errorf("BackendTimeout = %v", cfg.Lease.BackendTimeout)
	}
	if len(cfg.Verifiers) != 1 || cfg.Verifiers[0].Type != "static" {
		t.Fatalf("verifiers = %+v", cfg.Verifiers)
	}
	// inline fields end up in the config map
	if _, ok := cfg.Verifiers[0].Config["assertions"]; !ok {
		t.Error("verifier inline config not captured")
	}
	if len(cfg.Roles) != 1 || cfg.Roles[0].MaxTTL != 24*time.Hour {
		t.Fatalf("roles = %+v", cfg.Roles)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing signing key",
			mutate:  func(s string) string { return strings.Replace(s, `signing_key: "6d61737465722d6b6579"`, `signing_key: ""`, 1) },
			wantErr: "signing_key",
		},
		{
			name:    "role references unknown backend",
			mutate:  func(s string) string { return strings.Replace(s, "backend: pg-main", "backend: nope", 1) },
			wantErr: "unknown backend",
		},
		{
			name:    "mapping references unknown verifier",
			mutate:  func(s string) string { return strings.Replace(s, "verifier: dev", "verifier: nope", 1) },
			wantErr: "unknown verifier",
		},
		{
			name:    "invalid capability",
			mutate:  func(s string) string { return strings.Replace(s, "capabilities: [create, update, delete, read]", "capabilities: [write]", 1) },
			wantErr: "unknown capability",
		},
		{
			name:    "default ttl above max",
			mutate:  func(s string) string { return strings.Replace(s, "default_ttl: 1h", "default_ttl: 48h", 1) },
			wantErr: "default_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validConfig)))
			if err == nil {
				t.Fatal("Load() accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
