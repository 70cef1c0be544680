package budget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
)

// QuickMap manually sets the category of one transaction. Runs are never
// edited: when a run exists, a new manual-correction run is written that
// copies the latest run's rows with the corrected row.
func (c *Categorizer) QuickMap(ctx context.Context, tenantID, externalID, category string) (*model.BankTransaction, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: empty category", ErrInvalidCategory)
	}

	tx, err := c.store.GetTransactionByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	tx.SetCategory(category, model.SourceManual)
	if _, err := c.store.UpdateTransactionCategories(ctx, tenantID, []model.BankTransaction{*tx}); err != nil {
		return nil, fmt.Errorf("failed to persist manual category: %w", err)
	}

	corrected := analysisRow(tx, reasonManual)
	if err := c.writeCorrectionRun(ctx, tenantID, corrected); err != nil {
		return nil, err
	}

	if c.opts.LearnCategories {
		if _, err := c.LearnCategories(ctx, tenantID, []model.AnalysisTransaction{corrected}); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Manual category set",
		"tenant", tenantID,
		"external_transaction_id", externalID,
		"category", category)
	return tx, nil
}

func (c *Categorizer) writeCorrectionRun(ctx context.Context, tenantID string, corrected model.AnalysisTransaction) error {
	latest, err := c.store.LatestRun(ctx, tenantID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find latest run: %w", err)
	}

	rows, err := c.store.ListRunTransactions(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("failed to load latest run: %w", err)
	}
	rows = slices.Clone(rows)
	idx := slices.IndexFunc(rows, func(r model.AnalysisTransaction) bool {
		return r.ExternalTransactionID == corrected.ExternalTransactionID
	})
	if idx >= 0 {
		rows[idx] = corrected
	} else {
		rows = append(rows, corrected)
	}

	now := c.now()
	sourceHash, err := fingerprint.HashJSON(map[string]any{
		"mode":                    model.ProviderManualCorrection,
		"base_run":                latest.ID,
		"external_transaction_id": corrected.ExternalTransactionID,
		"category":                corrected.Category,
		"at":                      now.UnixNano(),
	})
	if err != nil {
		return err
	}

	run := &model.AnalysisRun{
		TenantID:         tenantID,
		SourceHash:       sourceHash,
		Provider:         model.ProviderManualCorrection,
		Model:            latest.Model,
		PromptHash:       latest.PromptHash,
		MappingsHash:     latest.MappingsHash,
		TransactionsHash: latest.TransactionsHash,
		Summary:          latest.Summary,
		CreatedAt:        now,
	}
	if err := c.store.CreateRun(ctx, run, rows); err != nil {
		return fmt.Errorf("failed to save correction run: %w", err)
	}
	return nil
}
