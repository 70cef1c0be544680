package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// mappingFile is the YAML layout used by mappings import and export.
type mappingFile struct {
	Mappings []mappingEntry `yaml:"mappings"`
}

type mappingEntry struct {
	Visible  *bool  `yaml:"visible_in_budget,omitempty"`
	Keyword  string `yaml:"keyword"`
	Category string `yaml:"category"`
	Flow     string `yaml:"flow,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
	Inactive bool   `yaml:"inactive,omitempty"`
}

func (e mappingEntry) toModel(tenantID string) model.CategoryMapping {
	visible := true
	if e.Visible != nil {
		visible = *e.Visible
	}
	return model.CategoryMapping{
		TenantID:        tenantID,
		Keyword:         strings.TrimSpace(e.Keyword),
		Category:        strings.TrimSpace(e.Category),
		Flow:            model.ParseFlow(e.Flow),
		Priority:        e.Priority,
		Active:          !e.Inactive,
		VisibleInBudget: visible,
	}
}

// parseMappingFile decodes a mapping seed file, rejecting entries without a
// category.
func parseMappingFile(data []byte) ([]mappingEntry, error) {
	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}
	for i, e := range file.Mappings {
		if strings.TrimSpace(e.Category) == "" {
			return nil, fmt.Errorf("mapping %d (%q): category is required", i+1, e.Keyword)
		}
	}
	return file.Mappings, nil
}

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mappings",
		Aliases: []string{"mapping"},
		Short:   "Manage keyword category mappings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List mappings in evaluation order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			mappings, err := a.store.ListMappings(cmd.Context(), a.cfg.Tenant, !all)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(mappings))
			for _, m := range mappings {
				state := "active"
				if !m.Active {
					state = cli.SubtleStyle.Render("inactive")
				}
				rows = append(rows, []string{strconv.FormatInt(m.ID, 10), m.Keyword, m.Category, string(m.Flow), strconv.Itoa(m.Priority), state})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "Keyword", "Category", "Flow", "Priority", "State"}, rows))
			return nil
		},
	}
	list.Flags().Bool("all", false, "include inactive mappings")

	add := &cobra.Command{
		Use:   "add <keyword> <category>",
		Short: "Add a keyword mapping",
		Long: `Add a mapping. Transactions whose counterparty, remittance or IBAN
contains the keyword get the category. Higher priority mappings win; new
mappings default to the highest priority so far.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, _ := cmd.Flags().GetString("flow")
			hidden, _ := cmd.Flags().GetBool("hidden")
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			priority, _ := cmd.Flags().GetInt("priority")
			if !cmd.Flags().Changed("priority") {
				maxPriority, err := a.store.MaxMappingPriority(cmd.Context(), a.cfg.Tenant)
				if err != nil {
					return err
				}
				priority = maxPriority + 1
			}

			visible := !hidden
			entry := mappingEntry{Keyword: args[0], Category: args[1], Flow: flow, Priority: priority, Visible: &visible}
			mapping := entry.toModel(a.cfg.Tenant)
			if err := a.store.SaveMapping(cmd.Context(), &mapping); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Mapping %d: %q → %s", mapping.ID, mapping.Keyword, mapping.Category)))
			return nil
		},
	}
	add.Flags().String("flow", "all", "flow the mapping applies to (income, expense, all)")
	add.Flags().Int("priority", 0, "evaluation priority (higher wins)")
	add.Flags().Bool("hidden", false, "exclude the category from budget totals")

	importYAML := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import mappings from a YAML file",
		Long: `Import mappings from YAML. Entries whose keyword and flow already exist
are updated in place.

  mappings:
    - keyword: electrabel
      category: Utilities
      flow: expense
      priority: 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			entries, err := parseMappingFile(data)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			added, updated, err := importMappings(cmd.Context(), a.store, a.cfg.Tenant, entries)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported mappings: %d added, %d updated", added, updated)))
			return nil
		},
	}

	exportYAML := &cobra.Command{
		Use:   "export",
		Short: "Print all mappings as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			mappings, err := a.store.ListMappings(cmd.Context(), a.cfg.Tenant, false)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(exportMappings(mappings))
		},
	}

	cmd.AddCommand(list, add, importYAML, exportYAML)
	return cmd
}

// importMappings upserts entries keyed by lower-cased keyword and flow.
func importMappings(ctx context.Context, store service.MappingStore, tenantID string, entries []mappingEntry) (added, updated int, err error) {
	existing, err := store.ListMappings(ctx, tenantID, false)
	if err != nil {
		return 0, 0, err
	}
	byKey := make(map[string]model.CategoryMapping, len(existing))
	for _, m := range existing {
		byKey[mappingKey(m)] = m
	}

	for _, e := range entries {
		m := e.toModel(tenantID)
		if prev, ok := byKey[mappingKey(m)]; ok {
			m.ID = prev.ID
			updated++
		} else {
			added++
		}
		if err := store.SaveMapping(ctx, &m); err != nil {
			return added, updated, fmt.Errorf("mapping %q: %w", e.Keyword, err)
		}
		byKey[mappingKey(m)] = m
	}
	return added, updated, nil
}

func mappingKey(m model.CategoryMapping) string {
	return strings.ToLower(strings.TrimSpace(m.Keyword)) + "\x00" + string(m.Flow)
}

func exportMappings(mappings []model.CategoryMapping) mappingFile {
	file := mappingFile{Mappings: make([]mappingEntry, 0, len(mappings))}
	for _, m := range mappings {
		entry := mappingEntry{
			Keyword:  m.Keyword,
			Category: m.Category,
			Flow:     string(m.Flow),
			Priority: m.Priority,
			Inactive: !m.Active,
		}
		if !m.VisibleInBudget {
			hidden := false
			entry.Visible = &hidden
		}
		file.Mappings = append(file.Mappings, entry)
	}
	return file
}
