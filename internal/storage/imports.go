package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
)

const importColumns = `id, tenant_id, bank_account_id, file_name, file_sha256, format, parsed_count, imported_count, created_at`

// FindImportByHash returns an earlier import of the same file bytes.
func (s *SQLiteStorage) FindImportByHash(ctx context.Context, tenantID, fileSHA256 string) (*model.CSVImport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fileSHA256, "fileSHA256"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+importColumns+` FROM csv_imports
		WHERE tenant_id = ? AND file_sha256 = ?
		ORDER BY created_at LIMIT 1`, tenantID, fileSHA256)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return imp, err
}

// ListImports returns the tenant's imports, newest first.
func (s *SQLiteStorage) ListImports(ctx context.Context, tenantID string) ([]model.CSVImport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+importColumns+` FROM csv_imports
		WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query imports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var imports []model.CSVImport
	for rows.Next() {
		imp, scanErr := scanImport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		imports = append(imports, *imp)
	}
	return imports, rows.Err()
}

func scanImport(row rowScanner) (*model.CSVImport, error) {
	var imp model.CSVImport
	err := row.Scan(&imp.ID, &imp.TenantID, &imp.BankAccountID, &imp.FileName, &imp.FileSHA256,
		&imp.Format, &imp.ParsedCount, &imp.ImportedCount, &imp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan import: %w", err)
	}
	return &imp, nil
}
