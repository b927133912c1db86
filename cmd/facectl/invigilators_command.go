package main

import (
	"errors"

	"github.com/spf13/cobra"

	"facerecog/internal/auth"
	"facerecog/internal/roster"
)

func newInvigilatorsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invigilators",
		Short: "Manage invigilator logins",
	}
	cmd.AddCommand(newInvigilatorsAddCommand(ctx))
	return cmd
}

func newInvigilatorsAddCommand(ctx *commandContext) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an invigilator or reset its password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(st roster.Store) error {
				if err := st.Migrate(cmd.Context()); err != nil {
					return err
				}
				inv, err := st.CreateInvigilator(cmd.Context(), username, hash)
				if err != nil {
					return err
				}
				cmd.Printf("Saved invigilator %s\n", inv.Username)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&password, "password", "", "Plaintext password, stored as a bcrypt hash")
	return cmd
}
