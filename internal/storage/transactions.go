package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
	"github.com/google/uuid"
)

const transactionColumns = `id, tenant_id, bank_account_id, external_transaction_id, dedupe_hash,
	booking_date, value_date, amount, currency, counterparty_name, counterparty_iban,
	remittance_information, movement_type, raw_json, csv_import_id, category, source,
	auto_mapping, llm_mapping, manual_mapping, created_at, updated_at`

// UpsertTransactions writes a batch of transactions in a single database
// transaction. A row is matched first by (account, external id) and then by
// (account, dedupe hash); matches are refreshed in place and keep their
// categorization, everything else is inserted. When imp is non-nil the
// import record is written in the same transaction with its imported count.
func (s *SQLiteStorage) UpsertTransactions(ctx context.Context, tenantID string, txs []model.BankTransaction, imp *model.CSVImport) (service.UpsertResult, error) {
	var result service.UpsertResult
	if err := validateContext(ctx); err != nil {
		return result, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return result, err
	}
	for i := range txs {
		if err := validateTransaction(&txs[i]); err != nil {
			return result, fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}

	now := s.now()
	if imp != nil {
		if imp.ID == "" {
			imp.ID = uuid.NewString()
		}
		imp.TenantID = tenantID
		if imp.CreatedAt.IsZero() {
			imp.CreatedAt = now
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range txs {
			txn := &txs[i]
			txn.TenantID = tenantID
			if imp != nil && txn.CSVImportID == "" {
				txn.CSVImportID = imp.ID
			}

			existingID, err := findExistingTransaction(ctx, tx, txn)
			if err != nil {
				return err
			}

			if existingID != "" {
				txn.ID = existingID
				txn.UpdatedAt = now
				if _, err := tx.ExecContext(ctx, `
					UPDATE bank_transactions SET
						booking_date = ?, value_date = ?, amount = ?, currency = ?,
						counterparty_name = ?, counterparty_iban = ?, remittance_information = ?,
						movement_type = ?, raw_json = ?, dedupe_hash = ?, updated_at = ?
					WHERE id = ?`,
					model.FormatDate(txn.BookingDate), model.FormatDate(txn.ValueDate), txn.Amount, txn.Currency,
					txn.CounterpartyName, txn.CounterpartyIBAN, txn.RemittanceInformation,
					txn.MovementType, txn.RawJSON, txn.DedupeHash, now, existingID,
				); err != nil {
					if isUniqueViolation(err) {
						slog.Debug("Skipped transaction update that would duplicate a dedupe hash",
							"transaction_id", existingID,
							"dedupe_hash", txn.DedupeHash)
						result.Skipped++
						continue
					}
					return fmt.Errorf("failed to update transaction %s: %w", existingID, err)
				}
				result.Updated++
				continue
			}

			if txn.ID == "" {
				txn.ID = uuid.NewString()
			}
			txn.CreatedAt = now
			txn.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bank_transactions (`+transactionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				txn.ID, tenantID, txn.BankAccountID, txn.ExternalTransactionID, txn.DedupeHash,
				model.FormatDate(txn.BookingDate), model.FormatDate(txn.ValueDate), txn.Amount, txn.Currency,
				txn.CounterpartyName, txn.CounterpartyIBAN, txn.RemittanceInformation, txn.MovementType,
				txn.RawJSON, txn.CSVImportID, txn.Category, string(txn.Source),
				boolToInt(txn.AutoMapping), boolToInt(txn.LLMMapping), boolToInt(txn.ManualMapping),
				now, now,
			); err != nil {
				if isUniqueViolation(err) {
					result.Skipped++
					continue
				}
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ExternalTransactionID, err)
			}
			result.Inserted++
		}

		if imp == nil {
			return nil
		}
		imp.ImportedCount = result.Inserted
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO csv_imports (id, tenant_id, bank_account_id, file_name, file_sha256, format, parsed_count, imported_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			imp.ID, tenantID, imp.BankAccountID, imp.FileName, imp.FileSHA256, imp.Format,
			imp.ParsedCount, imp.ImportedCount, imp.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to record import: %w", err)
		}
		return nil
	})
	if err != nil {
		return service.UpsertResult{}, err
	}

	slog.Debug("Upserted transactions",
		"tenant_id", tenantID,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped)
	return result, nil
}

func findExistingTransaction(ctx context.Context, tx *sql.Tx, txn *model.BankTransaction) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM bank_transactions
		WHERE tenant_id = ? AND bank_account_id = ? AND external_transaction_id = ?`,
		txn.TenantID, txn.BankAccountID, txn.ExternalTransactionID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up transaction by external id: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT id FROM bank_transactions
		WHERE tenant_id = ? AND bank_account_id = ? AND dedupe_hash = ?
		ORDER BY rowid DESC LIMIT 1`,
		txn.TenantID, txn.BankAccountID, txn.DedupeHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up transaction by dedupe hash: %w", err)
	}
	return id, nil
}

// ListTransactions returns the tenant's transactions, newest booking first.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, tenantID string, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.AccountID != "" {
		query += ` AND bank_account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.OutflowsOnly {
		query += ` AND amount < 0`
	}
	query += ` ORDER BY booking_date DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []model.BankTransaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txs = append(txs, *txn)
	}
	return txs, rows.Err()
}

// GetTransactionByExternalID loads one transaction by its provider id.
func (s *SQLiteStorage) GetTransactionByExternalID(ctx context.Context, tenantID, externalID string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM bank_transactions
		WHERE tenant_id = ? AND external_transaction_id = ?
		ORDER BY rowid DESC LIMIT 1`, tenantID, externalID)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", externalID, common.ErrNotFound)
	}
	return txn, err
}

// UpdateTransactionCategories persists category, source and mapping flags
// for each transaction by ID and returns how many rows changed.
func (s *SQLiteStorage) UpdateTransactionCategories(ctx context.Context, tenantID string, txs []model.BankTransaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0, nil
	}

	updated := 0
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE bank_transactions SET
				category = ?, source = ?, auto_mapping = ?, llm_mapping = ?, manual_mapping = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
			AND (category != ? OR source != ? OR auto_mapping != ? OR llm_mapping != ? OR manual_mapping != ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range txs {
			auto, llm, manual := boolToInt(txn.AutoMapping), boolToInt(txn.LLMMapping), boolToInt(txn.ManualMapping)
			res, execErr := stmt.ExecContext(ctx,
				txn.Category, string(txn.Source), auto, llm, manual, now,
				tenantID, txn.ID,
				txn.Category, string(txn.Source), auto, llm, manual,
			)
			if execErr != nil {
				return fmt.Errorf("failed to update category for %s: %w", txn.ID, execErr)
			}
			n, _ := res.RowsAffected()
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// PruneDuplicateTransactions keeps the most recently inserted row of each
// (account, dedupe hash) group and deletes the others.
func (s *SQLiteStorage) PruneDuplicateTransactions(ctx context.Context, tenantID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM bank_transactions
		WHERE tenant_id = ? AND rowid NOT IN (
			SELECT MAX(rowid) FROM bank_transactions
			WHERE tenant_id = ?
			GROUP BY bank_account_id, dedupe_hash
		)`, tenantID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to prune duplicate transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned transactions: %w", err)
	}
	return int(n), nil
}

func scanTransaction(row rowScanner) (*model.BankTransaction, error) {
	var txn model.BankTransaction
	var bookingDate, valueDate, source string
	var auto, llm, manual int
	err := row.Scan(
		&txn.ID, &txn.TenantID, &txn.BankAccountID, &txn.ExternalTransactionID, &txn.DedupeHash,
		&bookingDate, &valueDate, &txn.Amount, &txn.Currency, &txn.CounterpartyName, &txn.CounterpartyIBAN,
		&txn.RemittanceInformation, &txn.MovementType, &txn.RawJSON, &txn.CSVImportID, &txn.Category, &source,
		&auto, &llm, &manual, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	txn.BookingDate, _ = model.ParseDate(bookingDate)
	txn.ValueDate, _ = model.ParseDate(valueDate)
	txn.Source = model.Source(source)
	txn.AutoMapping = auto == 1
	txn.LLMMapping = llm == 1
	txn.ManualMapping = manual == 1
	return &txn, nil
}
