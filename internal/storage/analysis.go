package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const runColumns = `id, tenant_id, source_hash, provider, model, prompt_hash, mappings_hash,
	transactions_hash, tx_count, summary_json, created_at`

// CreateRun writes a run and its rows atomically. A second run with the same
// source hash fails with common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *model.AnalysisRun, rows []model.AnalysisTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	run.TxCount = len(rows)
	summary := run.Summary
	if summary == nil {
		summary = []string{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO analysis_runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.TenantID, run.SourceHash, run.Provider, run.Model, run.PromptHash,
			run.MappingsHash, run.TransactionsHash, run.TxCount, string(summaryJSON), run.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("analysis run %s: %w", run.SourceHash, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert analysis run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO analysis_transactions (
				run_id, external_transaction_id, booking_date, amount, currency,
				counterparty_name, remittance_information, flow, category, source, reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range rows {
			r := &rows[i]
			r.RunID = run.ID
			if _, err := stmt.ExecContext(ctx,
				run.ID, r.ExternalTransactionID, r.BookingDate, r.Amount, r.Currency,
				r.CounterpartyName, r.RemittanceInformation, string(r.Flow), r.Category, string(r.Source), r.Reason,
			); err != nil {
				return fmt.Errorf("failed to insert analysis row %s: %w", r.ExternalTransactionID, err)
			}
		}
		return nil
	})
}

// GetRunBySourceHash returns the cached run for a source hash.
func (s *SQLiteStorage) GetRunBySourceHash(ctx context.Context, tenantID, sourceHash string) (*model.AnalysisRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM analysis_runs
		WHERE tenant_id = ? AND source_hash = ?`, tenantID, sourceHash)
}

// LatestRun returns the newest run of the tenant.
func (s *SQLiteStorage) LatestRun(ctx context.Context, tenantID string) (*model.AnalysisRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM analysis_runs
		WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, tenantID)
}

// LatestRunForTransactions returns the newest run over the same transaction
// set, skipping runs written by excludeProvider.
func (s *SQLiteStorage) LatestRunForTransactions(ctx context.Context, tenantID, transactionsHash, excludeProvider string) (*model.AnalysisRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRun(ctx, `SELECT `+runColumns+` FROM analysis_runs
		WHERE tenant_id = ? AND transactions_hash = ? AND provider != ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, tenantID, transactionsHash, excludeProvider)
}

// ListRunTransactions returns the rows of a run.
func (s *SQLiteStorage) ListRunTransactions(ctx context.Context, runID string) ([]model.AnalysisTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, external_transaction_id, booking_date, amount, currency,
			counterparty_name, remittance_information, flow, category, source, reason
		FROM analysis_transactions WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.AnalysisTransaction
	for rows.Next() {
		var r model.AnalysisTransaction
		var flow, source string
		if err := rows.Scan(&r.RunID, &r.ExternalTransactionID, &r.BookingDate, &r.Amount, &r.Currency,
			&r.CounterpartyName, &r.RemittanceInformation, &flow, &r.Category, &source, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		r.Flow = model.Flow(flow)
		r.Source = model.Source(source)
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteRun removes a run and its rows. It is used only to discard corrupt cache entries.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, tenantID, runID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_transactions WHERE run_id IN (
			SELECT id FROM analysis_runs WHERE tenant_id = ? AND id = ?)`, tenantID, runID); err != nil {
			return fmt.Errorf("failed to delete analysis rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_runs WHERE tenant_id = ? AND id = ?`, tenantID, runID); err != nil {
			return fmt.Errorf("failed to delete analysis run: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) queryRun(ctx context.Context, query string, args ...any) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	var summaryJSON string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.TenantID, &run.SourceHash, &run.Provider, &run.Model, &run.PromptHash,
		&run.MappingsHash, &run.TransactionsHash, &run.TxCount, &summaryJSON, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis run: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
		// A corrupt summary is treated like an empty one; the rows are what matter.
		run.Summary = nil
	}
	return &run, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
