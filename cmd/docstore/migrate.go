package main

import (
	"fmt"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Migrations are idempotent; running this on an up to date database is a no-op.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(viper.GetViper())
			common.LogInfo("Starting database migration", common.Fields{"database": cfg.Database.Path})

			store, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Database ready at "+store.Path()))
			return nil
		},
	}
}
