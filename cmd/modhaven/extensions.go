// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package main

import (
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	hostext "github.com/modhaven/modhaven/internal/extension"
	"github.com/modhaven/modhaven/internal/settings"
)

// NewExtensionsCmd creates the extensions subcommand group.
func NewExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Inspect extension packages",
	}
	cmd.AddCommand(newExtensionsListCmd())
	return cmd
}

func newExtensionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered extension packages",
		Long: `Scan the extensions directory and print each package's
manifest. Invalid manifests are reported, not skipped silently.`,
		RunE: runExtensionsList,
	}
	settings.RegisterFlags(cmd.Flags())
	return cmd
}

func runExtensionsList(cmd *cobra.Command, _ []string) error {
	cfg, err := settings.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.ExtensionsDir)
	if os.IsNotExist(err) {
		cmd.Printf("no extensions directory at %s\n", cfg.ExtensionsDir)
		return nil
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	w.Write([]byte("ID\tVERSION\tTYPE\tNAME\n"))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(cfg.ExtensionsDir, entry.Name(), "extension.yaml")
		data, err := os.ReadFile(filepath.Clean(path))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			cmd.PrintErrf("%s: %v\n", entry.Name(), err)
			continue
		}
		if err := hostext.ValidateSchema(data); err != nil {
			cmd.PrintErrf("%s: invalid manifest: %v\n", entry.Name(), err)
			continue
		}
		m, err := hostext.ParseManifest(data)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", entry.Name(), err)
			continue
		}
		w.Write([]byte(m.ID + "\t" + m.Version + "\t" + string(m.Type) + "\t" + m.Name + "\n"))
	}
	return nil
}
