package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/crmkit/tenant-sync/internal/config"
	"github.com/crmkit/tenant-sync/internal/db"
	"github.com/crmkit/tenant-sync/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo tenants...")

		if err := seedTenants(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedTenant struct {
	ownerEmail  string
	displayName string
	subdomain   string
	status      string
}

// seedTenants inserts deterministic demo tenants (idempotent on
// subdomain).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []seedTenant{
		{"owner@acme.test", "Acme Corp", "acme", "active"},
		{"owner@foobar.test", "Foobar LLC", "foobar", "active"},
		{"owner@beta.test", "Beta Testers", "beta", "pending"},
		{"owner@dormant.test", "Dormant Inc", "dormant", "disabled"},
	}

	const userQ = `
INSERT INTO users (email, name, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    updated_at = VALUES(updated_at)
`
	const tenantQ = `
INSERT INTO tenants
    (id, owner_user_id, display_name, subdomain, status, created_at, updated_at)
VALUES
    (?, (SELECT id FROM users WHERE email = ?), ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    display_name = VALUES(display_name),
    status       = VALUES(status),
    updated_at   = VALUES(updated_at)
`

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(userQ, t.ownerEmail, t.ownerEmail, now, now); err != nil {
			return fmt.Errorf("insert user %q: %w", t.ownerEmail, err)
		}
		if _, err := tx.Exec(tenantQ, util.New(), t.ownerEmail, t.displayName, t.subdomain, t.status, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.subdomain, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenants: %w", err)
	}
	return nil
}
