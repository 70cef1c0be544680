// Package dedupe flags re-uploaded documents and prunes re-imported bank
// transactions.
//
// Documents are checked twice: once on the raw bytes at upload time and once
// on the OCR text after extraction, which catches rescans of the same paper.
// A flagged document keeps its data but its AI/OCR processing is deferred
// until someone decides to keep it.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// ErrNotDuplicate is returned when resolving a document that was never flagged.
var ErrNotDuplicate = errors.New("document is not flagged as a duplicate")

// Store is the persistence the guard needs.
type Store interface {
	service.DocumentStore
	PruneDuplicateTransactions(ctx context.Context, tenantID string) (int, error)
}

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Document        *model.Document
	DuplicateOf     string
	Reason          string
	DeferProcessing bool
}

// Guard runs duplicate checks against a Store.
type Guard struct {
	store  Store
	logger *slog.Logger
}

// New creates a guard. A nil logger uses the component default.
func New(store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = common.ComponentLogger("dedupe")
	}
	return &Guard{store: store, logger: logger}
}

// CheckUpload stores the content hash of an uploaded document and flags it
// when another live document of the tenant has identical bytes.
func (g *Guard) CheckUpload(ctx context.Context, tenantID, docID string, content []byte) (*Verdict, error) {
	doc, err := g.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	doc.ContentSHA256 = fingerprint.ContentHash(content)
	return g.check(ctx, doc, doc.ContentSHA256, model.DuplicateReasonContent, g.store.FindDocumentByContentHash)
}

// CheckExtractedText stores the OCR text hash and flags the document when the
// most recent other live document has the same text, even if the bytes differed.
// Documents without text are not checked.
func (g *Guard) CheckExtractedText(ctx context.Context, tenantID, docID, text string) (*Verdict, error) {
	doc, err := g.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	doc.OCRTextHash = fingerprint.TextHash(text)
	if doc.OCRTextHash == "" {
		if err := g.store.SaveDocument(ctx, doc); err != nil {
			return nil, err
		}
		return verdictFor(doc), nil
	}
	return g.check(ctx, doc, doc.OCRTextHash, model.DuplicateReasonOCRText, g.store.FindDocumentByTextHash)
}

type finder func(ctx context.Context, tenantID, hash, excludeID string) (*model.Document, error)

func (g *Guard) check(ctx context.Context, doc *model.Document, hash, reason string, find finder) (*Verdict, error) {
	existing, err := find(ctx, doc.TenantID, hash, doc.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to look up duplicate: %w", err)
	case doc.DuplicateResolved && doc.DuplicateOf == existing.ID:
		// Already kept against this document.
	default:
		doc.DuplicateOf = existing.ID
		doc.DuplicateReason = reason
		doc.DuplicateResolved = false
		g.logger.Info("Flagged duplicate document",
			"tenant_id", doc.TenantID,
			"document_id", doc.ID,
			"duplicate_of", existing.ID,
			"reason", reason)
	}

	if err := g.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return verdictFor(doc), nil
}

func verdictFor(doc *model.Document) *Verdict {
	return &Verdict{
		Document:        doc,
		DuplicateOf:     doc.DuplicateOf,
		Reason:          doc.DuplicateReason,
		DeferProcessing: doc.IsFlaggedDuplicate(),
	}
}

// ResolveDuplicate keeps a flagged duplicate, releasing its deferred processing.
func (g *Guard) ResolveDuplicate(ctx context.Context, tenantID, docID string) (*model.Document, error) {
	doc, err := g.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.DuplicateOf == "" {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotDuplicate)
	}
	if doc.DuplicateResolved {
		return doc, nil
	}

	doc.DuplicateResolved = true
	if err := g.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	g.logger.Info("Kept duplicate document", "tenant_id", tenantID, "document_id", docID)
	return doc, nil
}

// PruneDuplicateTransactions removes older copies of transactions that share an
// account and dedupe hash. Running it twice removes nothing the second time.
func (g *Guard) PruneDuplicateTransactions(ctx context.Context, tenantID string) (int, error) {
	removed, err := g.store.PruneDuplicateTransactions(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		g.logger.Info("Pruned duplicate transactions", "tenant_id", tenantID, "removed", removed)
	}
	return removed, nil
}
