// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/modhaven/modhaven/internal/settings"
	"github.com/modhaven/modhaven/internal/store"
	"github.com/modhaven/modhaven/internal/xdg"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run catalog database migrations",
		Long:  `Apply all pending schema migrations to the catalog database.`,
		RunE:  runMigrate,
	}
	settings.RegisterFlags(cmd.Flags())
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := settings.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := xdg.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	st, err := store.OpenSQLite(cmd.Context(), cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	migrator, err := store.NewMigrator(st.DB())
	if err != nil {
		return err
	}
	defer migrator.Close()

	cmd.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		return err
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Migrations completed (version %d, dirty=%v)\n", version, dirty)
	return nil
}
