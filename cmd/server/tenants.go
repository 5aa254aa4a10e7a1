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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTenantCmds() []*cobra.Command {
	createTenant := &cobra.Command{
		Use:   "create-tenant <schema> <domain> <name...>",
		Short: "Provision a clinic with its schema and primary domain",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				t, err := a.tenants.Create(cmd.Context(), strings.Join(args[2:], " "), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created clinic %s (%s) on %s\n", t.Name, t.SchemaName, t.PrimaryDomain())
				return nil
			})
		},
	}

	deleteTenant := &cobra.Command{
		Use:   "delete-tenant <schema>",
		Short: "Drop a clinic with its domains and schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to drop schema %q without --yes", args[0])
			}
			return withApp(cmd, func(a *app) error {
				t, err := a.tenants.BySchema(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.tenants.Delete(cmd.Context(), t.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted clinic %s (%s)\n", t.Name, t.SchemaName)
				return nil
			})
		},
	}
	deleteTenant.Flags().Bool("yes", false, "confirm the schema drop")

	listTenants := &cobra.Command{
		Use:   "list-tenants",
		Short: "List clinics and their domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				clinics, err := a.tenants.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SCHEMA\tNAME\tDOMAINS\tCREATED")
				for _, t := range clinics {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.SchemaName, t.Name, strings.Join(t.DomainNames(), ","), t.CreatedAt.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	}

	addDomain := &cobra.Command{
		Use:   "add-domain <schema> <domain>",
		Short: "Bind a hostname to a clinic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			primary, _ := cmd.Flags().GetBool("primary")
			return withApp(cmd, func(a *app) error {
				t, err := a.tenants.BySchema(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				d, err := a.tenants.AddDomain(cmd.Context(), t.ID, args[1], primary)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "bound %s to %s\n", d.Domain, t.SchemaName)
				return nil
			})
		},
	}
	addDomain.Flags().Bool("primary", false, "make the hostname the clinic's primary domain")

	removeDomain := &cobra.Command{
		Use:   "remove-domain <domain>",
		Short: "Unbind a non-primary hostname",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.tenants.RemoveDomain(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}

	return []*cobra.Command{createTenant, deleteTenant, listTenants, addDomain, removeDomain}
}

// withApp runs fn against services wired without metrics.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
