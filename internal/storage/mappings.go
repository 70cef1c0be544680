package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/model"
)

// ListMappings returns the tenant's category mappings by priority then id.
func (s *SQLiteStorage) ListMappings(ctx context.Context, tenantID string, activeOnly bool) ([]model.CategoryMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, keyword, flow, category, priority, active, visible_in_budget
		FROM category_mappings WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority, id`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []model.CategoryMapping
	for rows.Next() {
		var m model.CategoryMapping
		var flow string
		var active, visible int
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Keyword, &flow, &m.Category, &m.Priority, &active, &visible); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		m.Flow = model.ParseFlow(flow)
		m.Active = active == 1
		m.VisibleInBudget = visible == 1
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// SaveMapping inserts a mapping (ID 0) or updates an existing one.
func (s *SQLiteStorage) SaveMapping(ctx context.Context, mapping *model.CategoryMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if mapping != nil && mapping.Flow == "" {
		mapping.Flow = model.FlowAll
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}
	mapping.Keyword = strings.TrimSpace(mapping.Keyword)
	mapping.Category = strings.TrimSpace(mapping.Category)

	if mapping.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO category_mappings (tenant_id, keyword, flow, category, priority, active, visible_in_budget)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			mapping.TenantID, mapping.Keyword, string(mapping.Flow), mapping.Category, mapping.Priority,
			boolToInt(mapping.Active), boolToInt(mapping.VisibleInBudget))
		if err != nil {
			return fmt.Errorf("failed to insert mapping: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get mapping id: %w", err)
		}
		mapping.ID = id
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE category_mappings SET keyword = ?, flow = ?, category = ?, priority = ?, active = ?, visible_in_budget = ?
		WHERE tenant_id = ? AND id = ?`,
		mapping.Keyword, string(mapping.Flow), mapping.Category, mapping.Priority,
		boolToInt(mapping.Active), boolToInt(mapping.VisibleInBudget), mapping.TenantID, mapping.ID)
	if err != nil {
		return fmt.Errorf("failed to update mapping %d: %w", mapping.ID, err)
	}
	return nil
}

// MaxMappingPriority returns the highest priority in use, or 0.
func (s *SQLiteStorage) MaxMappingPriority(ctx context.Context, tenantID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var maxPriority int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(priority), 0) FROM category_mappings WHERE tenant_id = ?`,
		tenantID).Scan(&maxPriority)
	if err != nil {
		return 0, fmt.Errorf("failed to query max priority: %w", err)
	}
	return maxPriority, nil
}
