package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/importer"
	"github.com/spf13/cobra"
)

// statementExtensions are the files picked up when a directory is imported.
var statementExtensions = map[string]bool{
	".csv":  true,
	".txt":  true,
	".cod":  true,
	".coda": true,
	".ofx":  true,
	".qfx":  true,
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files or directories...]",
		Short: "Import bank statements (CSV, CODA, OFX/QFX)",
		Long: `Import bank transactions from statement files exported by your bank.

Files already imported are skipped, and rows already stored are updated in
place, so overlapping statements can be imported safely.

Examples:
  # Import a single CSV export
  docstore import ~/Downloads/export.csv --account BE68539007547034

  # Import every statement in a directory
  docstore import ~/Statements --account checking

  # Preview what a file contains
  docstore import ~/Downloads/jan.qfx --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringP("account", "a", "default", "bank account the statements belong to")
	cmd.Flags().String("format", "auto", "statement format (auto, csv, coda, ofx)")
	cmd.Flags().BoolP("dry-run", "d", false, "parse files without saving")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	account, _ := cmd.Flags().GetString("account")
	format, _ := cmd.Flags().GetString("format")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	files, err := collectStatementFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no statement files found")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	var rows [][]string
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := filepath.Base(path)

		if dryRun {
			fileFormat := resolveFormat(format, name, content)
			txs, err := a.importer.Parse(fileFormat, name, content)
			if err != nil {
				slog.Error("Failed to parse statement", "file", name, "error", err)
				rows = append(rows, []string{name, fileFormat, "parse error", "-", "-"})
				continue
			}
			rows = append(rows, []string{name, fileFormat, "dry run", strconv.Itoa(len(txs)), "-"})
			continue
		}

		res, err := a.importer.ImportFile(ctx, a.cfg.Tenant, account, name, content)
		if err != nil {
			slog.Error("Failed to import statement", "file", name, "error", err)
			rows = append(rows, []string{name, "-", "failed", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			name,
			res.Format,
			string(res.Status),
			strconv.Itoa(res.Parsed),
			fmt.Sprintf("+%d ~%d", res.Inserted, res.Updated),
		})
	}

	_, _ = fmt.Fprintln(out, cli.FormatTitle("Import summary"))
	_, _ = fmt.Fprintln(out, cli.RenderTable([]string{"File", "Format", "Status", "Rows", "Changes"}, rows))
	return nil
}

// resolveFormat applies the --format flag, detecting when it is auto.
func resolveFormat(flag, name string, content []byte) string {
	if flag == "" || flag == "auto" {
		return importer.DetectFormat(name, content)
	}
	return strings.ToLower(flag)
}

// collectStatementFiles expands globs and walks directories for statement
// files. The result is sorted and free of duplicates.
func collectStatementFiles(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("No files found matching pattern", "pattern", pattern)
			continue
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(match)
				continue
			}
			err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && statementExtensions[strings.ToLower(filepath.Ext(path))] {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", match, err)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}
