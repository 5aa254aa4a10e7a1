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
	"os"

	"github.com/spf13/cobra"

	"github.com/psicosas/psicosas/internal/config"
	"github.com/psicosas/psicosas/internal/observability/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "psicosas",
	Short:         "Multi-tenant clinic platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		logger.InitLogger(logger.Config{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newTenantCmds()...)
	rootCmd.AddCommand(newUserCmds()...)
	rootCmd.AddCommand(newBackupCmds()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", logger.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
