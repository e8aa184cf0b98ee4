// Package postgres implements the credential backend for PostgreSQL.
// Generate creates a database role from the lease role's SQL template;
// Revoke drops it again. Both paths are written so that retrying after a
// partial failure is safe: DROP ROLE IF EXISTS makes revocation of a
// half-created or already-dropped principal a successful no-op.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/jmelchers/arvon/internal/audit"
	"github.com/jmelchers/arvon/internal/backend/creds"
	"github.com/jmelchers/arvon/internal/core"
)

const Type = "postgres"

var info = core.BackendInfo{
	Type:    Type,
	Version: "v1",
}

var _ core.Backend = (*Backend)(nil)

// DefaultTemplate is used when a role defines no credential template.
const DefaultTemplate = `CREATE ROLE "{{name}}" WITH LOGIN PASSWORD '{{password}}' VALID UNTIL '{{expiration}}'`

// expirationSkew is added to the granted TTL so the database-side expiry
// never undercuts the lease; the broker revokes first.
const expirationSkew = 5 * time.Minute

type Backend struct {
	name string
	db   *sql.DB
}

type Config struct {
	DSN string `mapstructure:"dsn"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

func NewFromConfig(name string, raw map[string]any) (*Backend, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s backend '%s' config: %w", Type, name, err)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s backend '%s' missing 'dsn'", Type, name)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database for %s backend '%s': %w", Type, name, err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(15 * time.Minute)

	return &Backend{name: name, db: db}, nil
}

// New wraps an existing database handle, mainly for tests.
func New(name string, db *sql.DB) *Backend {
	return &Backend{name: name, db: db}
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Type() string { return Type }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Generate(ctx context.Context, role core.Role, ttl time.Duration) (*core.CredentialArtifact, error) {
	username, err := creds.Username(role.Name)
	if err != nil {
		return nil, fmt.Errorf("generating username: %w", err)
	}
	password, err := creds.Password()
	if err != nil {
		return nil, fmt.Errorf("generating password: %w", err)
	}
	expiration := time.Now().Add(ttl + expirationSkew).UTC()

	template := role.Template
	if template == "" {
		template = DefaultTemplate
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.Wrap(core.KindBackendUnavailable, err, "connecting to database")
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(template) {
		rendered := renderStatement(stmt, username, password, expiration)
		if _, err := tx.ExecContext(ctx, rendered); err != nil {
			if ctx.Err() != nil {
				return nil, core.Wrap(core.KindBackendUnavailable, err, "database call timed out")
			}
			// the template produced SQL the server rejects; retrying
			// the same template cannot help
			return nil, core.Wrap(core.KindBackendRejected, err, "executing creation statement")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, core.Wrap(core.KindBackendUnavailable, err, "committing creation")
	}

	log.Ctx(ctx).Debug().
		Str("backend", b.name).
		Str("role", role.Name).
		Msg("postgres role created")

	artifact := &core.CredentialArtifact{
		Credential:  core.Credential{Username: username, Password: password},
		Fingerprint: audit.Fingerprint(password),
		ExpiresAt:   time.Now().Add(ttl),
		Backend:     info,
		Metadata: map[string]any{
			"db_role": username,
		},
	}
	artifact.SetRevocationRef(username)
	return artifact, nil
}

// Revoke drops the database role. Dropping a role that does not exist is
// a success, so revocation can be retried freely.
func (b *Backend) Revoke(ctx context.Context, revocationRef string) error {
	if revocationRef == "" {
		return errors.New("empty revocation reference")
	}

	stmt := fmt.Sprintf(`DROP ROLE IF EXISTS %s`, quoteIdentifier(revocationRef))
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return core.Wrap(core.KindBackendUnavailable, err, "dropping database role")
	}
	return nil
}

func splitStatements(template string) []string {
	var stmts []string
	for _, raw := range strings.Split(template, ";") {
		if s := strings.TrimSpace(raw); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func renderStatement(stmt, username, password string, expiration time.Time) string {
	r := strings.NewReplacer(
		"{{name}}", username,
		"{{password}}", strings.ReplaceAll(password, "'", "''"),
		"{{expiration}}", expiration.Format("2006-01-02 15:04:05-07"),
	)
	return r.Replace(stmt)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
