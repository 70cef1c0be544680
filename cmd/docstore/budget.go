package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/deknijf/documentstore/internal/budget"
	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/config"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/sheets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Categorize transactions into a budget report",
	}

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Categorize all transactions",
		Long: `Categorize every transaction of the tenant. Keyword mappings win, then
categories kept from earlier runs, then the model, then built-in rules.
An identical rerun reuses the cached result.`,
		RunE: runBudgetAnalyze,
	}
	analyze.Flags().Bool("job", false, "run as a background budget-analyze job")
	analyze.Flags().Bool("json", false, "print the report as JSON")
	addFollowFlags(analyze)

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Reapply mappings to the latest run without calling the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.categorizer.Refresh(cmd.Context(), a.cfg.Tenant)
			if err != nil {
				return err
			}
			return printReport(cmd, report)
		},
	}
	refresh.Flags().Bool("json", false, "print the report as JSON")

	quickmap := &cobra.Command{
		Use:   "quickmap <external-transaction-id> <category>",
		Short: "Manually set the category of one transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tx, err := a.categorizer.QuickMap(cmd.Context(), a.cfg.Tenant, args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s → %s", tx.ExternalTransactionID, tx.Category)))
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write the latest report to Google Sheets",
		RunE:  runBudgetExport,
	}
	export.Flags().String("spreadsheet", "", "spreadsheet ID (default sheets.spreadsheet_id, or create one)")

	auth := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Sheets access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(viper.GetViper())
			if cfg.Sheets.ClientID == "" || cfg.Sheets.ClientSecret == "" {
				return common.NewUserError("set sheets.client_id and sheets.client_secret first", common.ErrMissingConfig)
			}
			_, err := sheets.AuthenticateInteractive(cmd.Context(), sheets.OAuth2Config{
				ClientID:     cfg.Sheets.ClientID,
				ClientSecret: cfg.Sheets.ClientSecret,
				TokenFile:    cfg.Sheets.TokenFile,
			}, nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Token saved to "+cfg.Sheets.TokenFile))
			return nil
		},
	}

	cmd.AddCommand(analyze, refresh, quickmap, export, auth)
	return cmd
}

func runBudgetAnalyze(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if asJob, _ := cmd.Flags().GetBool("job"); asJob {
		_, err := startAndFollow(cmd, a, model.JobTypeBudgetAnalyze)
		return err
	}

	a.logger.Info("Starting categorization", "tenant", a.cfg.Tenant, "provider", a.providerName())
	bar := cli.NewProgress(cmd.ErrOrStderr(), "Categorizing")
	report, err := a.service.RunCategorizationPass(cmd.Context(), a.cfg.Tenant, bar.Update)
	bar.Finish()
	if err != nil {
		return err
	}
	return printReport(cmd, report)
}

func runBudgetExport(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sheetsCfg, err := sheetsConfig(a.cfg.Sheets)
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("spreadsheet"); id != "" {
		sheetsCfg.SpreadsheetID = id
	}

	report, err := a.categorizer.Refresh(cmd.Context(), a.cfg.Tenant)
	if err != nil {
		return err
	}

	writer, err := sheets.NewWriter(cmd.Context(), sheetsCfg, nil)
	if err != nil {
		return err
	}
	spreadsheetID, err := writer.Write(cmd.Context(), report)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Exported %d transactions", len(report.Transactions))))
	_, _ = fmt.Fprintln(out, cli.FormatInfo("https://docs.google.com/spreadsheets/d/"+spreadsheetID))
	return nil
}

// sheetsConfig builds the writer config. Without a configured refresh token
// the token saved by "budget auth" is used.
func sheetsConfig(c config.SheetsConfig) (sheets.Config, error) {
	cfg := sheets.DefaultConfig()
	cfg.ClientID = c.ClientID
	cfg.ClientSecret = c.ClientSecret
	cfg.RefreshToken = c.RefreshToken
	cfg.ServiceAccountPath = c.ServiceAccountPath
	cfg.SpreadsheetID = c.SpreadsheetID
	cfg.EnableFormatting = c.EnableFormatting
	if c.SpreadsheetName != "" {
		cfg.SpreadsheetName = c.SpreadsheetName
	}
	if c.TimeZone != "" {
		cfg.TimeZone = c.TimeZone
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.RetryAttempts > 0 {
		cfg.RetryAttempts = c.RetryAttempts
	}
	if c.RetryDelay > 0 {
		cfg.RetryDelay = c.RetryDelay
	}

	if cfg.RefreshToken == "" && cfg.ServiceAccountPath == "" && c.TokenFile != "" {
		if token, err := sheets.LoadToken(c.TokenFile); err == nil {
			cfg.RefreshToken = token.RefreshToken
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, common.NewUserError("Google Sheets is not configured; run 'docstore budget auth' or set sheets.service_account_path", err)
	}
	return cfg, nil
}

func printReport(cmd *cobra.Command, report *budget.Report) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeReport(out, report)
	return nil
}

func writeReport(out io.Writer, report *budget.Report) {
	_, _ = fmt.Fprintln(out, cli.FormatTitle("Budget report"))

	source := report.Provider
	if report.Model != "" {
		source += "/" + report.Model
	}
	if report.Cached {
		source += " (cached)"
	}
	_, _ = fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("%d transactions, %d mappings, %s", len(report.Transactions), report.MappingsCount, source)))

	rows := make([][]string, 0, len(report.CategoryTotals))
	for _, t := range report.CategoryTotals {
		rows = append(rows, []string{t.Category, formatMoney(t.Income), formatMoney(t.Expense)})
	}
	_, _ = fmt.Fprintln(out, cli.RenderTable([]string{"Category", "Income", "Expense"}, rows))

	for _, point := range report.SummaryPoints {
		_, _ = fmt.Fprintln(out, "  • "+point)
	}
	if report.FailedChunks > 0 {
		_, _ = fmt.Fprintln(out, cli.FormatWarning(strconv.Itoa(report.FailedChunks)+" chunks fell back to rules"))
	}
	if report.LearnedCount > 0 {
		_, _ = fmt.Fprintln(out, cli.FormatInfo(strconv.Itoa(report.LearnedCount)+" new keyword mappings learned"))
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
