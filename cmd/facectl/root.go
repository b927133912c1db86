package main

import (
	"context"

	"github.com/spf13/cobra"

	"facerecog/internal/config"
	"facerecog/internal/roster"
)

type commandContext struct {
	configPath string
	driver     string
	dsn        string
}

func (c *commandContext) config() config.App {
	cfg := config.LoadFrom(c.configPath)
	if c.driver != "" {
		cfg.StoreDriver = c.driver
	}
	if c.dsn != "" {
		if cfg.StoreDriver == "mongo" {
			cfg.MongoURI = c.dsn
		} else {
			cfg.DatabaseURL = c.dsn
		}
	}
	return cfg
}

// withStore opens the configured roster, runs fn and closes it again.
func (c *commandContext) withStore(ctx context.Context, fn func(roster.Store) error) error {
	st, closeFn, err := roster.Open(ctx, c.config())
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck
	return fn(st)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "facectl",
		Short:         "Manage the facerecog roster",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "TOML configuration file (defaults to $APP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&ctx.driver, "store", "", "Store driver override (postgres, sqlite, mongo)")
	rootCmd.PersistentFlags().StringVar(&ctx.dsn, "dsn", "", "Connection string override for the selected store")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newStudentsCommand(ctx))
	rootCmd.AddCommand(newInvigilatorsCommand(ctx))
	rootCmd.AddCommand(newAttemptsCommand(ctx))

	return rootCmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st roster.Store) error {
				if err := st.Migrate(cmd.Context()); err != nil {
					return err
				}
				cmd.Println("Schema up to date")
				return nil
			})
		},
	}
}
