// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psicosas/psicosas/internal/backup"
	"github.com/psicosas/psicosas/internal/identity"
)

// cliActor is recorded in the audit trail for operator-initiated backups.
var cliActor = backup.Actor{ID: "cli", Role: identity.RoleAdmin}

var backupInfoCmd = &cobra.Command{
	Use:   "backup-info --schema <schema>",
	Short: "Show backup tooling and per-table row counts of a clinic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, _ := cmd.Flags().GetString("schema")
		return withApp(cmd, func(a *app) error {
			return a.bind(cmd.Context(), schema, func(ctx context.Context) error {
				info, err := a.backups.Info(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			})
		})
	},
}

func init() {
	backupInfoCmd.Flags().String("schema", "", "clinic schema")
	_ = backupInfoCmd.MarkFlagRequired("schema")
}

func newBackupCmds() []*cobra.Command {
	create := &cobra.Command{
		Use:   "backup-create <schema>",
		Short: "Write a backup of a clinic schema to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withApp(cmd, func(a *app) error {
				return a.bind(cmd.Context(), args[0], func(ctx context.Context) error {
					artifact, err := a.backups.CreateBackup(ctx, cliActor)
					if err != nil {
						return err
					}
					path := filepath.Join(dir, artifact.Filename())
					if err := os.WriteFile(path, artifact.Body, 0o600); err != nil {
						return fmt.Errorf("write backup: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", path, artifact.Strategy, len(artifact.Body))
					return nil
				})
			})
		},
	}
	create.Flags().String("dir", ".", "output directory")

	restore := &cobra.Command{
		Use:   "backup-restore <schema> <file>",
		Short: "Restore a .sql or .json backup into a clinic schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			allow, _ := cmd.Flags().GetBool("allow-cross-schema")
			body, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			return withApp(cmd, func(a *app) error {
				return a.bind(cmd.Context(), args[0], func(ctx context.Context) error {
					res, err := a.backups.RestoreBackup(ctx,
						backup.Upload{Filename: filepath.Base(args[1]), Body: body},
						cliActor,
						backup.RestoreOptions{AllowCrossSchema: allow},
					)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "restored %d rows into %s from %s\n", res.TotalRows, res.Schema, res.SourceSchema)
					return nil
				})
			})
		},
	}
	restore.Flags().Bool("allow-cross-schema", false, "accept a JSON backup taken from another schema")

	return []*cobra.Command{backupInfoCmd, create, restore}
}
