package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
)

type seedOptions struct {
	enabled        bool
	tenantID       string
	subdomain      string
	name           string
	maxConnections int
}

// NewMigrateCommand returns the "migrate" subcommand. With --seed it also
// provisions a tenant for local development.
func NewMigrateCommand() *cobra.Command {
	var (
		envFile string
		seed    seedOptions
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(envFile)
			if err != nil {
				return err
			}
			db, err := repo.Open(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()

			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("auto-migration failed: %w", err)
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("schema migrated")

			if !seed.enabled {
				return nil
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			created, err := seedTenant(ctx, db, seed)
			if err != nil {
				return err
			}
			log.Info().Str("tenant_id", seed.tenantID).Str("subdomain", seed.subdomain).Bool("created", created).Msg("seed tenant ready")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	f.BoolVar(&seed.enabled, "seed", false, "Provision a development tenant after migrating")
	f.StringVar(&seed.tenantID, "tenant-id", "demo-hotel", "Seed tenant id")
	f.StringVar(&seed.subdomain, "subdomain", "demo", "Seed tenant subdomain")
	f.StringVar(&seed.name, "name", "Demo Hotel", "Seed tenant display name")
	f.IntVar(&seed.maxConnections, "max-connections", 0, "Seed tenant realtime connection cap (0 = deployment default)")
	return cmd
}

// seedTenant creates the tenant unless one with the same id exists. It
// reports whether a row was inserted.
func seedTenant(ctx context.Context, db *gorm.DB, o seedOptions) (bool, error) {
	if o.tenantID == "" || o.subdomain == "" {
		return false, errors.New("seed: tenant id and subdomain are required")
	}
	if _, err := repo.GetTenant(ctx, db, o.tenantID); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("seed: lookup tenant: %w", err)
	}
	t := &domain.Tenant{
		ID:             o.tenantID,
		Subdomain:      o.subdomain,
		Name:           o.name,
		Active:         true,
		MaxConnections: o.maxConnections,
	}
	if err := repo.CreateTenant(ctx, db, t); err != nil {
		return false, fmt.Errorf("seed: create tenant: %w", err)
	}
	return true, nil
}
