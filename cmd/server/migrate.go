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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/store/postgres"
	"github.com/psicosas/psicosas/internal/tenant"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the control-plane tables, register the public tenant and migrate every clinic schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate control plane: %w", err)
		}
		slog.InfoContext(ctx, "control plane migrated", logger.Schema(cfg.Tenancy.PublicSchema))

		repo := postgres.NewTenantRepository(db)
		public := &tenant.Tenant{
			ID:         uuid.NewString(),
			Name:       cfg.Tenancy.PublicName,
			SchemaName: cfg.Tenancy.PublicSchema,
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.EnsureControlPlane(ctx, public, cfg.Tenancy.PublicDomains); err != nil {
			return fmt.Errorf("register public tenant: %w", err)
		}

		clinics, err := repo.List(ctx)
		if err != nil {
			return fmt.Errorf("list clinics: %w", err)
		}

		var errs error
		migrated := 0
		for _, c := range clinics {
			if c.SchemaName == cfg.Tenancy.PublicSchema {
				continue
			}
			if err := db.MigrateTenant(ctx, c.SchemaName); err != nil {
				slog.ErrorContext(ctx, "clinic migration failed", logger.Schema(c.SchemaName), logger.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.SchemaName, err))
				continue
			}
			migrated++
		}

		fmt.Fprintf(cmd.OutOrStdout(), "migrated control plane and %d clinic schema(s)\n", migrated)
		return errs
	},
}
