// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	hostext "github.com/modhaven/modhaven/internal/extension"
)

// NewSchemaCmd creates the schema subcommand, which writes the manifest
// JSON Schema for editor integration.
func NewSchemaCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Generate the extension manifest JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := hostext.GenerateSchema()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, schema, 0o600); err != nil {
				return err
			}
			cmd.Printf("Generated %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", filepath.Join("schemas", "extension.schema.json"), "output file path")
	return cmd
}
