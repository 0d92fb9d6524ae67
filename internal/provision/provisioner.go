// Package provision manages tenant-scoped storage. Callers treat it as
// an opaque collaborator: create on tenant creation, drop (best-effort)
// on delete.
package provision

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

type Provisioner interface {
	Create(ctx context.Context, subdomain string) error
	Drop(ctx context.Context, subdomain string) error
}

// MySQLProvisioner keeps one schema per tenant, named tenant_<subdomain>.
type MySQLProvisioner struct {
	db     *sqlx.DB
	prefix string
}

func NewMySQLProvisioner(db *sqlx.DB) *MySQLProvisioner {
	return &MySQLProvisioner{db: db, prefix: "tenant_"}
}

var _ Provisioner = (*MySQLProvisioner)(nil)

// subdomains are validated at the API edge; this guard keeps schema
// names safe even if a caller bypasses it.
var safeSubdomain = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

func (p *MySQLProvisioner) schemaName(subdomain string) (string, error) {
	if !safeSubdomain.MatchString(subdomain) {
		return "", fmt.Errorf("provision: invalid subdomain %q", subdomain)
	}
	// schema names cannot carry '-'
	name := p.prefix + subdomain
	return "`" + replaceDashes(name) + "`", nil
}

func replaceDashes(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}

func (p *MySQLProvisioner) Create(ctx context.Context, subdomain string) error {
	name, err := p.schemaName(subdomain)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+name)
	return err
}

func (p *MySQLProvisioner) Drop(ctx context.Context, subdomain string) error {
	name, err := p.schemaName(subdomain)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+name)
	return err
}
