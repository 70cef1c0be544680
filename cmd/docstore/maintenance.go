package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/spf13/cobra"
)

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Database housekeeping",
	}

	prune := &cobra.Command{
		Use:   "prune-transactions",
		Short: "Remove duplicate copies of bank transactions",
		Long: `Remove older copies of transactions that share an account and a
fingerprint. The newest copy of each group is kept. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(os.Stdin), cmd.OutOrStdout(),
					"Remove duplicate transactions for tenant "+a.cfg.Tenant+"?")
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing removed"))
					return nil
				}
			}

			removed, err := a.guard.PruneDuplicateTransactions(ctx, a.cfg.Tenant)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Removed %d duplicate transactions", removed)))
			return nil
		},
	}
	prune.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	imports := &cobra.Command{
		Use:   "imports",
		Short: "List imported statement files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListImports(cmd.Context(), a.cfg.Tenant)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, imp := range list {
				rows = append(rows, []string{
					imp.FileName,
					imp.BankAccountID,
					strconv.Itoa(imp.ImportedCount),
					imp.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"File", "Account", "Rows", "Imported"}, rows))
			return nil
		},
	}

	cmd.AddCommand(prune, imports)
	return cmd
}
