package main

import (
	"fmt"

	catalog "github.com/fjod/go_bakery/internal/catalog/repository"
	"github.com/fjod/go_bakery/internal/config"
	orderrepo "github.com/fjod/go_bakery/internal/orders/repository"
	"github.com/fjod/go_bakery/pkg/logging"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured catalog and order backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return migrateAll(cfg)
		},
	}
}

func migrateAll(cfg *config.Config) error {
	log := logging.New(cfg.LogLevel)
	applied := 0

	if cfg.CatalogDBPath != "" {
		repo, err := catalog.NewSQLiteRepository(cfg.CatalogDBPath)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		log.Info("catalog migrations applied", "path", cfg.CatalogDBPath)
		applied++
	}

	if cfg.OrderBackend == config.BackendPostgres {
		cred := credentials(cfg)
		repo, err := orderrepo.NewPostgresRepository(cred)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.RunMigrations(cred); err != nil {
			return fmt.Errorf("orders: %w", err)
		}
		log.Info("order migrations applied", "host", cfg.DBHost, "db", cfg.DBName)
		applied++
	}

	if applied == 0 {
		log.Info("nothing to migrate, all backends are in memory")
	}
	return nil
}
