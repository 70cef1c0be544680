package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/config"
	"github.com/deknijf/documentstore/internal/plaid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync bank transactions from Plaid",
		Long: `Fetch recent transactions from the connected Plaid item and import them.

Synced transactions go through the same idempotent import path as statement
files, so re-running a sync only updates what changed.`,
		RunE: runSync,
	}
	cmd.Flags().Int("days", 0, "number of days to fetch (default plaid.sync_days)")

	cmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Create a Plaid Link token for connecting a bank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(viper.GetViper())
			client, err := plaid.NewClient(plaid.ConfigFromSettings(cfg.Plaid))
			if err != nil {
				return err
			}
			token, err := client.CreateLinkToken(cmd.Context(), cfg.Tenant)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Link token: "+token))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exchange <public-token>",
		Short: "Exchange a Link public token for an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(viper.GetViper())
			client, err := plaid.NewClient(plaid.ConfigFromSettings(cfg.Plaid))
			if err != nil {
				return err
			}
			accessToken, itemID, err := client.ExchangePublicToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatSuccess("Connected Plaid item "+itemID))
			_, _ = fmt.Fprintln(out, cli.FormatInfo("Set plaid.access_token to: "+accessToken))
			return nil
		},
	})

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	plaidCfg := plaid.ConfigFromSettings(a.cfg.Plaid)
	if err := plaidCfg.Validate(); err != nil {
		return err
	}
	client, err := plaid.NewClient(plaidCfg)
	if err != nil {
		return err
	}

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = a.cfg.Plaid.SyncDays
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	results, err := plaid.Sync(ctx, client, a.importer, a.cfg.Tenant, start, end)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.AccountID, strconv.Itoa(r.Fetched), strconv.Itoa(r.Inserted), strconv.Itoa(r.Updated)})
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Plaid sync (%d days)", days)))
	_, _ = fmt.Fprintln(out, cli.RenderTable([]string{"Account", "Fetched", "New", "Updated"}, rows))
	return nil
}
