package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/reconcile"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Register documents and handle duplicates",
	}

	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Register a document and check it for duplicates",
		Long: `Register a financial document with its extracted fields. The file bytes
(and the OCR text, when --text is given) are checked against the tenant's
other documents; a duplicate is flagged and held until resolved.`,
		Args: cobra.ExactArgs(1),
		RunE: runDocumentsAdd,
	}
	add.Flags().String("title", "", "document title (default file name)")
	add.Flags().String("category", "", "document category, e.g. invoice or receipt")
	add.Flags().String("issuer", "", "issuing company")
	add.Flags().String("subject", "", "short description")
	add.Flags().String("amount", "", "total amount, e.g. 125.50")
	add.Flags().String("currency", "EUR", "currency code")
	add.Flags().String("date", "", "document date (YYYY-MM-DD)")
	add.Flags().String("due", "", "due date (YYYY-MM-DD)")
	add.Flags().String("iban", "", "payee IBAN")
	add.Flags().String("reference", "", "structured payment reference")
	add.Flags().String("text", "", "file with the extracted text of the document")

	show := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.store.GetDocument(cmd.Context(), a.cfg.Tenant, args[0])
			if err != nil {
				return err
			}
			printDocument(cmd.OutOrStdout(), doc)
			return nil
		},
	}

	resolve := &cobra.Command{
		Use:   "resolve <document-id>",
		Short: "Keep a document flagged as duplicate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.guard.ResolveDuplicate(cmd.Context(), a.cfg.Tenant, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Kept "+doc.ID+" (duplicate of "+doc.DuplicateOf+")"))
			return nil
		},
	}

	cmd.AddCommand(add, show, resolve)
	return cmd
}

func runDocumentsAdd(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	doc, err := documentFromFlags(cmd, filepath.Base(args[0]))
	if err != nil {
		return err
	}

	var text string
	if textFile, _ := cmd.Flags().GetString("text"); textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			return err
		}
		text = string(data)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc.TenantID = a.cfg.Tenant
	if err := a.store.SaveDocument(ctx, doc); err != nil {
		return err
	}

	verdict, err := a.guard.CheckUpload(ctx, a.cfg.Tenant, doc.ID, content)
	if err != nil {
		return err
	}
	if !verdict.DeferProcessing && text != "" {
		verdict, err = a.guard.CheckExtractedText(ctx, a.cfg.Tenant, doc.ID, text)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	printDocument(out, verdict.Document)
	if verdict.DeferProcessing {
		_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Duplicate of %s (%s); run 'docstore documents resolve %s' to keep it", verdict.DuplicateOf, verdict.Reason, doc.ID)))
		return nil
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Registered "+doc.ID))
	return nil
}

func documentFromFlags(cmd *cobra.Command, fileName string) (*model.Document, error) {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}

	doc := &model.Document{
		Title:               get("title"),
		Category:            get("category"),
		Issuer:              get("issuer"),
		Subject:             get("subject"),
		Currency:            strings.ToUpper(get("currency")),
		IBAN:                get("iban"),
		StructuredReference: get("reference"),
	}
	if doc.Title == "" {
		doc.Title = fileName
	}

	if raw := get("amount"); raw != "" {
		amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
		}
		v := amount.Abs().InexactFloat64()
		doc.TotalAmount = &v
	}

	var err error
	if doc.DocumentDate, err = parseDateFlag("date", get("date")); err != nil {
		return nil, err
	}
	if doc.DueDate, err = parseDateFlag("due", get("due")); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseDateFlag(flag, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, ok := model.ParseDate(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --%s %q", flag, raw)
	}
	return t, nil
}

func printDocument(w io.Writer, doc *model.Document) {
	amount := "-"
	if doc.TotalAmount != nil {
		amount = strconv.FormatFloat(*doc.TotalAmount, 'f', 2, 64) + " " + doc.Currency
	}
	paid := "no"
	if doc.Paid {
		paid = "yes"
		if !doc.PaidOn.IsZero() {
			paid += " (" + model.FormatDate(doc.PaidOn) + ")"
		}
	}

	rows := [][]string{
		{"ID", doc.ID},
		{"Title", doc.Title},
		{"Amount", amount},
		{"Paid", paid},
	}
	if ctx := reconcile.DocumentContext(doc); ctx != "" {
		rows = append(rows, []string{"Context", ctx})
	}
	if doc.BankMatchExternalTransactionID != "" {
		rows = append(rows, []string{"Match", fmt.Sprintf("%s (%d, %s)", doc.BankMatchExternalTransactionID, doc.BankMatchScore, doc.BankMatchConfidence)})
	}
	if doc.DuplicateOf != "" {
		state := "flagged"
		if doc.DuplicateResolved {
			state = "kept"
		}
		rows = append(rows, []string{"Duplicate", fmt.Sprintf("%s of %s (%s)", state, doc.DuplicateOf, doc.DuplicateReason)})
	}
	if doc.Remark != "" {
		rows = append(rows, []string{"Remark", doc.Remark})
	}
	_, _ = fmt.Fprintln(w, cli.RenderBox(cli.DocumentIcon+" "+doc.Title, cli.RenderTable([]string{"Field", "Value"}, rows)))
}
