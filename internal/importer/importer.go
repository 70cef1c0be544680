// Package importer turns bank statement files (CSV, CODA, OFX/QFX) and
// synced transactions into stored bank transactions.
//
// Imports are idempotent. A file whose bytes were imported before is
// skipped outright, and every row is matched against existing transactions
// by external id and then by its structural fingerprint, so overlapping
// statements never create duplicates.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// Statement formats.
const (
	FormatCSV  = "csv"
	FormatCODA = "coda"
	FormatOFX  = "ofx"
)

// Status summarizes what an import did.
type Status string

const (
	// StatusImported means at least one new transaction was stored.
	StatusImported Status = "imported"
	// StatusDuplicateFile means the same bytes were imported before; nothing was written.
	StatusDuplicateFile Status = "duplicate_file"
	// StatusNoNewTransactions means every row already existed.
	StatusNoNewTransactions Status = "no_new_transactions"
)

// ErrEmptyFile is returned for zero-byte uploads.
var ErrEmptyFile = errors.New("file is empty")

// Store is the persistence the importer needs.
type Store interface {
	service.TransactionStore
	service.ImportStore
}

// Result reports the outcome of one file import.
type Result struct {
	Status           Status `json:"status"`
	FileName         string `json:"file_name"`
	Format           string `json:"format,omitempty"`
	ImportID         string `json:"import_id,omitempty"`
	ExistingFileName string `json:"existing_file_name,omitempty"`
	Parsed           int    `json:"parsed"`
	Inserted         int    `json:"inserted"`
	Updated          int    `json:"updated"`
	Skipped          int    `json:"skipped,omitempty"`
}

// Importer writes parsed statements to a Store.
type Importer struct {
	store  Store
	logger *slog.Logger
}

// New creates an importer. A nil logger uses the component default.
func New(store Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = common.ComponentLogger("importer")
	}
	return &Importer{store: store, logger: logger}
}

// DetectFormat picks a parser from the file extension, then the content.
func DetectFormat(name string, content []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ofx", ".qfx":
		return FormatOFX
	case ".coda", ".cod":
		return FormatCODA
	}
	switch {
	case looksLikeOFX(content):
		return FormatOFX
	case looksLikeCODA(content):
		return FormatCODA
	default:
		return FormatCSV
	}
}

// Parse reads the transactions of a statement file in the given format.
func (im *Importer) Parse(format, name string, content []byte) ([]model.BankTransaction, error) {
	switch format {
	case FormatOFX:
		return ParseOFX(content, im.logger)
	case FormatCODA:
		return ParseCODA(content), nil
	case FormatCSV:
		return ParseCSV(name, content), nil
	default:
		return nil, fmt.Errorf("%w: statement format %q", common.ErrInvalidConfig, format)
	}
}

// ImportFile imports one statement file into accountID.
func (im *Importer) ImportFile(ctx context.Context, tenantID, accountID, name string, content []byte) (*Result, error) {
	result := &Result{FileName: name}
	if len(content) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}

	fileHash := fingerprint.ContentHash(content)
	existing, err := im.store.FindImportByHash(ctx, tenantID, fileHash)
	switch {
	case err == nil:
		result.Status = StatusDuplicateFile
		result.ExistingFileName = existing.FileName
		im.logger.Info("Skipping already imported file",
			"tenant_id", tenantID,
			"file", name,
			"existing_file", existing.FileName)
		return result, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to check previous imports: %w", err)
	}

	result.Format = DetectFormat(name, content)
	txs, err := im.Parse(result.Format, name, content)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, common.ErrNoTransactions)
	}
	result.Parsed = len(txs)

	prepare(txs, accountID)
	imp := &model.CSVImport{
		BankAccountID: accountID,
		FileName:      name,
		FileSHA256:    fileHash,
		Format:        result.Format,
		ParsedCount:   len(txs),
	}
	upserted, err := im.store.UpsertTransactions(ctx, tenantID, txs, imp)
	if err != nil {
		return nil, fmt.Errorf("failed to store transactions from %s: %w", name, err)
	}

	result.ImportID = imp.ID
	result.Inserted = upserted.Inserted
	result.Updated = upserted.Updated
	result.Skipped = upserted.Skipped
	result.Status = StatusImported
	if upserted.Inserted == 0 {
		result.Status = StatusNoNewTransactions
	}

	im.logger.Info("Imported statement",
		"tenant_id", tenantID,
		"file", name,
		"format", result.Format,
		"parsed", result.Parsed,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped)
	return result, nil
}

// ImportTransactions stores transactions from a sync source such as Plaid.
func (im *Importer) ImportTransactions(ctx context.Context, tenantID, accountID, source string, txs []model.BankTransaction) (service.UpsertResult, error) {
	if len(txs) == 0 {
		return service.UpsertResult{}, nil
	}
	prepare(txs, accountID)
	result, err := im.store.UpsertTransactions(ctx, tenantID, txs, nil)
	if err != nil {
		return result, fmt.Errorf("failed to store %s transactions: %w", source, err)
	}
	im.logger.Info("Imported synced transactions",
		"tenant_id", tenantID,
		"source", source,
		"inserted", result.Inserted,
		"updated", result.Updated)
	return result, nil
}

// prepare assigns the account, currency, fingerprint and a stable external id.
func prepare(txs []model.BankTransaction, accountID string) {
	for i := range txs {
		tx := &txs[i]
		tx.BankAccountID = accountID
		tx.Currency = tx.CurrencyOrDefault()
		tx.DedupeHash = fingerprint.Transaction(tx)
		tx.ExternalTransactionID = strings.TrimSpace(tx.ExternalTransactionID)
		if tx.ExternalTransactionID == "" {
			tx.ExternalTransactionID = "dedupe_" + tx.DedupeHash[:16]
		}
	}
}
