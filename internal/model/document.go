package model

import (
	"strings"
	"time"
)

// Duplicate reasons recorded on flagged documents.
const (
	DuplicateReasonContent = "content"
	DuplicateReasonOCRText = "ocr_text"
)

// Document is an uploaded financial document with the fields extracted by OCR
// that reconciliation relies on.
type Document struct {
	DocumentDate time.Time
	DueDate      time.Time
	PaidOn       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	TotalAmount *float64

	ID                  string
	TenantID            string
	Title               string
	Category            string
	Issuer              string
	Subject             string
	Currency            string
	IBAN                string
	StructuredReference string
	BudgetCategory      string
	Remark              string

	ContentSHA256   string
	OCRTextHash     string
	DuplicateOf     string
	DuplicateReason string

	BankMatchScore                 int
	BankMatchConfidence            Confidence
	BankMatchReason                string
	BankMatchExternalTransactionID string

	Paid              bool
	BankPaidVerified  bool
	DuplicateResolved bool
	Deleted           bool
}

// Amount returns the total amount or zero when it was not extracted.
func (d *Document) Amount() float64 {
	if d.TotalAmount == nil {
		return 0
	}
	return *d.TotalAmount
}

// IsFlaggedDuplicate reports whether further processing must wait for a human decision.
func (d *Document) IsFlaggedDuplicate() bool {
	return d.DuplicateOf != "" && !d.DuplicateResolved
}

// HasCategory reports whether the document category is one of cats (case-insensitive).
func (d *Document) HasCategory(cats []string) bool {
	cat := strings.ToLower(strings.TrimSpace(d.Category))
	for _, c := range cats {
		if cat == strings.ToLower(c) {
			return true
		}
	}
	return false
}

// BankMatch is the outcome of reconciling a document against a transaction.
type BankMatch struct {
	DocumentID            string     `json:"document_id"`
	ExternalTransactionID string     `json:"external_transaction_id"`
	Confidence            Confidence `json:"confidence"`
	Reason                string     `json:"reason"`
	Score                 int        `json:"score"`
}
