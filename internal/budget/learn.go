package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/model"
)

// LearnCategories registers every category in rows that no active mapping
// names yet, as a keyword-less mapping. The flow is the single flow the
// category was seen with, or all. It returns the number of mappings created.
func (c *Categorizer) LearnCategories(ctx context.Context, tenantID string, rows []model.AnalysisTransaction) (int, error) {
	flows := make(map[string]map[model.Flow]struct{})
	var order []string
	for _, r := range rows {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			continue
		}
		seen, ok := flows[category]
		if !ok {
			seen = make(map[model.Flow]struct{})
			flows[category] = seen
			order = append(order, category)
		}
		switch r.Flow {
		case model.FlowIncome, model.FlowExpense:
			seen[r.Flow] = struct{}{}
		default:
			seen[model.FlowAll] = struct{}{}
		}
	}
	if len(order) == 0 {
		return 0, nil
	}

	existing, err := c.store.ListMappings(ctx, tenantID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list mappings: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[strings.ToLower(strings.TrimSpace(m.Category))] = struct{}{}
	}

	priority, err := c.store.MaxMappingPriority(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to read mapping priority: %w", err)
	}

	created := 0
	for _, category := range order {
		key := strings.ToLower(category)
		if _, ok := known[key]; ok {
			continue
		}
		known[key] = struct{}{}

		flow := model.FlowAll
		if seen := flows[category]; len(seen) == 1 {
			for f := range seen {
				flow = f
			}
		}

		priority++
		mapping := &model.CategoryMapping{
			TenantID:        tenantID,
			Category:        category,
			Flow:            flow,
			Priority:        priority,
			Active:          true,
			VisibleInBudget: true,
		}
		if err := c.store.SaveMapping(ctx, mapping); err != nil {
			return created, fmt.Errorf("failed to save learned category %q: %w", category, err)
		}
		created++
	}

	if created > 0 {
		c.logger.Info("Learned new categories", "tenant", tenantID, "count", created)
	}
	return created, nil
}
