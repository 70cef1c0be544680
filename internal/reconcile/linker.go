package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/service"
)

// Linker attaches the document a transaction paid to the transaction, so the
// categorizer can use the document's category and issuer as a hint.
type Linker struct {
	store service.DocumentStore
}

// NewLinker creates a linker over store.
func NewLinker(store service.DocumentStore) *Linker {
	return &Linker{store: store}
}

// LinkDocuments fills LinkedDocumentContext on every transaction of txs that
// a paid document was matched to.
func (l *Linker) LinkDocuments(ctx context.Context, tenantID string, txs []model.BankTransaction) error {
	docs, err := l.store.ListPaidDocuments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list paid documents: %w", err)
	}

	byExternalID := make(map[string]*model.Document, len(docs))
	for i := range docs {
		if ext := docs[i].BankMatchExternalTransactionID; ext != "" {
			byExternalID[ext] = &docs[i]
		}
	}
	if len(byExternalID) == 0 {
		return nil
	}

	for i := range txs {
		if doc, ok := byExternalID[txs[i].ExternalTransactionID]; ok {
			txs[i].LinkedDocumentContext = DocumentContext(doc)
		}
	}
	return nil
}

// DocumentContext renders the non-empty fields of doc as "key=value" pairs.
func DocumentContext(doc *model.Document) string {
	amount := ""
	if doc.TotalAmount != nil {
		amount = strings.TrimSpace(fingerprint.FormatAmount(*doc.TotalAmount) + " " + strings.TrimSpace(doc.Currency))
	}

	pairs := [][2]string{
		{"category", doc.Category},
		{"issuer", doc.Issuer},
		{"subject", doc.Subject},
		{"amount", amount},
		{"iban", doc.IBAN},
		{"reference", doc.StructuredReference},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if v := strings.TrimSpace(p[1]); v != "" {
			parts = append(parts, p[0]+"="+v)
		}
	}
	return strings.Join(parts, " | ")
}
