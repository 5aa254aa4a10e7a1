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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psicosas/psicosas/internal/identity"
)

func newUserCmds() []*cobra.Command {
	createSuperuser := &cobra.Command{
		Use:   "create-superuser <email>",
		Short: "Create a platform superuser for the control plane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := accountInput(cmd, args[0])
			if err != nil {
				return err
			}
			in.IsStaff = true
			in.IsSuperuser = true
			return withApp(cmd, func(a *app) error {
				acct, err := a.platformAccounts.CreateAccount(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created superuser %s (%s)\n", acct.Email, acct.ID)
				return nil
			})
		},
	}
	addAccountFlags(createSuperuser)

	createClinicUser := &cobra.Command{
		Use:   "create-clinic-user <schema> <email>",
		Short: "Create a user inside a clinic schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := accountInput(cmd, args[1])
			if err != nil {
				return err
			}
			in.UserType, _ = cmd.Flags().GetString("type")
			return withApp(cmd, func(a *app) error {
				return a.bind(cmd.Context(), args[0], func(ctx context.Context) error {
					acct, err := a.clinicAccounts.CreateAccount(ctx, in)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "created %s %s in %s\n", acct.UserType, acct.Email, args[0])
					return nil
				})
			})
		},
	}
	addAccountFlags(createClinicUser)
	createClinicUser.Flags().String("type", identity.TypePatient, "user type: patient, professional or admin")

	return []*cobra.Command{createSuperuser, createClinicUser}
}

func addAccountFlags(cmd *cobra.Command) {
	cmd.Flags().String("password", "", "password; read from stdin when empty")
	cmd.Flags().String("first-name", "", "first name")
	cmd.Flags().String("last-name", "", "last name")
}

func accountInput(cmd *cobra.Command, email string) (identity.NewAccount, error) {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		if password, err = readPassword(cmd.InOrStdin()); err != nil {
			return identity.NewAccount{}, err
		}
	}
	first, _ := cmd.Flags().GetString("first-name")
	last, _ := cmd.Flags().GetString("last-name")
	return identity.NewAccount{
		Email:     email,
		Password:  password,
		FirstName: first,
		LastName:  last,
	}, nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return password, nil
}
