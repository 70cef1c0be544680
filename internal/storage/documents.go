package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/google/uuid"
)

const documentColumns = `id, tenant_id, title, category, issuer, subject, total_amount, currency,
	document_date, due_date, iban, structured_reference, paid, paid_on, budget_category, remark,
	content_sha256, ocr_text_hash, duplicate_of, duplicate_reason, duplicate_resolved,
	bank_paid_verified, bank_match_score, bank_match_confidence, bank_match_reason,
	bank_match_external_transaction_id, deleted, created_at, updated_at`

// SaveDocument inserts or replaces a document. An empty ID is assigned a UUID.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	now := s.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	var total sql.NullFloat64
	if doc.TotalAmount != nil {
		total = sql.NullFloat64{Float64: *doc.TotalAmount, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			issuer = excluded.issuer,
			subject = excluded.subject,
			total_amount = excluded.total_amount,
			currency = excluded.currency,
			document_date = excluded.document_date,
			due_date = excluded.due_date,
			iban = excluded.iban,
			structured_reference = excluded.structured_reference,
			paid = excluded.paid,
			paid_on = excluded.paid_on,
			budget_category = excluded.budget_category,
			remark = excluded.remark,
			content_sha256 = excluded.content_sha256,
			ocr_text_hash = excluded.ocr_text_hash,
			duplicate_of = excluded.duplicate_of,
			duplicate_reason = excluded.duplicate_reason,
			duplicate_resolved = excluded.duplicate_resolved,
			bank_paid_verified = excluded.bank_paid_verified,
			bank_match_score = excluded.bank_match_score,
			bank_match_confidence = excluded.bank_match_confidence,
			bank_match_reason = excluded.bank_match_reason,
			bank_match_external_transaction_id = excluded.bank_match_external_transaction_id,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
		WHERE documents.tenant_id = excluded.tenant_id`,
		doc.ID, doc.TenantID, doc.Title, doc.Category, doc.Issuer, doc.Subject, total, doc.Currency,
		model.FormatDate(doc.DocumentDate), model.FormatDate(doc.DueDate), doc.IBAN, doc.StructuredReference,
		boolToInt(doc.Paid), model.FormatDate(doc.PaidOn), doc.BudgetCategory, doc.Remark,
		doc.ContentSHA256, doc.OCRTextHash, doc.DuplicateOf, doc.DuplicateReason, boolToInt(doc.DuplicateResolved),
		boolToInt(doc.BankPaidVerified), doc.BankMatchScore, string(doc.BankMatchConfidence), doc.BankMatchReason,
		doc.BankMatchExternalTransactionID, boolToInt(doc.Deleted), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument loads one document of the tenant.
func (s *SQLiteStorage) GetDocument(ctx context.Context, tenantID, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = ? AND id = ?`,
		tenantID, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return doc, err
}

// ListPayableDocuments returns live documents with an amount whose category
// is one of categories. Flagged duplicates awaiting a decision are skipped.
func (s *SQLiteStorage) ListPayableDocuments(ctx context.Context, tenantID string, categories []string) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE tenant_id = ? AND deleted = 0 AND total_amount IS NOT NULL
		AND (duplicate_of = '' OR duplicate_resolved = 1)`
	args := []any{tenantID}
	if len(categories) > 0 {
		placeholders := make([]string, len(categories))
		for i, c := range categories {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(strings.TrimSpace(c)))
		}
		query += ` AND lower(category) IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY document_date, created_at`

	return s.queryDocuments(ctx, query, args...)
}

// ListPaidDocuments returns live documents with an amount and a payment date.
func (s *SQLiteStorage) ListPaidDocuments(ctx context.Context, tenantID string) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ? AND deleted = 0 AND total_amount IS NOT NULL AND paid_on != ''
		ORDER BY paid_on, created_at`, tenantID)
}

func (s *SQLiteStorage) queryDocuments(ctx context.Context, query string, args ...any) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// FindDocumentByContentHash returns the most recent other live document with the same bytes.
func (s *SQLiteStorage) FindDocumentByContentHash(ctx context.Context, tenantID, hash, excludeID string) (*model.Document, error) {
	return s.findDocumentByHash(ctx, "content_sha256", tenantID, hash, excludeID)
}

// FindDocumentByTextHash returns the most recent other live document with the same OCR text.
func (s *SQLiteStorage) FindDocumentByTextHash(ctx context.Context, tenantID, hash, excludeID string) (*model.Document, error) {
	return s.findDocumentByHash(ctx, "ocr_text_hash", tenantID, hash, excludeID)
}

func (s *SQLiteStorage) findDocumentByHash(ctx context.Context, column, tenantID, hash, excludeID string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(hash, column); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ? AND `+column+` = ? AND id != ? AND deleted = 0
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		tenantID, hash, excludeID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return doc, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var total sql.NullFloat64
	var docDate, dueDate, paidOn, confidence string
	var paid, dupResolved, verified, deleted int
	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Title, &doc.Category, &doc.Issuer, &doc.Subject, &total, &doc.Currency,
		&docDate, &dueDate, &doc.IBAN, &doc.StructuredReference, &paid, &paidOn, &doc.BudgetCategory, &doc.Remark,
		&doc.ContentSHA256, &doc.OCRTextHash, &doc.DuplicateOf, &doc.DuplicateReason, &dupResolved,
		&verified, &doc.BankMatchScore, &confidence, &doc.BankMatchReason,
		&doc.BankMatchExternalTransactionID, &deleted, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	if total.Valid {
		amount := total.Float64
		doc.TotalAmount = &amount
	}
	doc.DocumentDate, _ = model.ParseDate(docDate)
	doc.DueDate, _ = model.ParseDate(dueDate)
	doc.PaidOn, _ = model.ParseDate(paidOn)
	doc.BankMatchConfidence = model.Confidence(confidence)
	doc.Paid = paid == 1
	doc.DuplicateResolved = dupResolved == 1
	doc.BankPaidVerified = verified == 1
	doc.Deleted = deleted == 1
	return &doc, nil
}
