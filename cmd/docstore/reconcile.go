package main

import (
	"fmt"
	"strconv"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match payable documents against bank transactions",
		Long: `Run a reconciliation pass: every payable document with an amount is
scored against the tenant's outflows, and accepted matches mark the document
as paid with an audit remark.

With --job the pass runs as a background job and its progress is shown live.`,
		RunE: runReconcile,
	}
	cmd.Flags().Bool("job", false, "run as a background check-bank job")
	addFollowFlags(cmd)
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if asJob, _ := cmd.Flags().GetBool("job"); asJob {
		_, err := startAndFollow(cmd, a, model.JobTypeCheckBank)
		return err
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, cancel := interrupts.HandleInterrupts(cmd.Context(), "Documents matched so far stay marked as paid.")
	defer cancel()

	bar := cli.NewProgress(cmd.ErrOrStderr(), "Reconciling")
	result, err := a.service.RunReconciliationPass(ctx, a.cfg.Tenant, bar.Update)
	bar.Finish()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cli.FormatTitle("Reconciliation"))
	if len(result.Matches) > 0 {
		rows := make([][]string, 0, len(result.Matches))
		for _, m := range result.Matches {
			rows = append(rows, []string{m.DocumentID, m.ExternalTransactionID, strconv.Itoa(m.Score), string(m.Confidence)})
		}
		_, _ = fmt.Fprintln(out, cli.RenderTable([]string{"Document", "Transaction", "Score", "Confidence"}, rows))
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Checked %d documents, matched %d", result.Checked, result.Matched)))
	return nil
}
