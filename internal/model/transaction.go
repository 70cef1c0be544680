package model

import (
	"strings"
	"time"
)

// DefaultCurrency is assumed when a bank export leaves the currency empty.
const DefaultCurrency = "EUR"

// BankTransaction is one imported or synced account movement.
type BankTransaction struct {
	BookingDate time.Time
	ValueDate   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	ID                    string
	TenantID              string
	BankAccountID         string
	ExternalTransactionID string
	DedupeHash            string
	Currency              string
	CounterpartyName      string
	CounterpartyIBAN      string
	RemittanceInformation string
	MovementType          string
	RawJSON               string
	CSVImportID           string

	// LinkedDocumentContext is filled in at analysis time from a matched document.
	LinkedDocumentContext string

	Category string
	Source   Source

	Amount float64

	AutoMapping   bool
	LLMMapping    bool
	ManualMapping bool
}

// Flow derives income/expense from the amount sign.
func (t *BankTransaction) Flow() Flow {
	return FlowForAmount(t.Amount)
}

// CurrencyOrDefault returns the upper-cased currency, defaulting to EUR.
func (t *BankTransaction) CurrencyOrDefault() string {
	c := strings.ToUpper(strings.TrimSpace(t.Currency))
	if c == "" {
		return DefaultCurrency
	}
	return c
}

// SetCategory records a category together with its provenance flags.
func (t *BankTransaction) SetCategory(category string, source Source) {
	t.Category = category
	t.Source = source
	t.AutoMapping = source == SourceMapping
	t.LLMMapping = source == SourceLLM || source == SourceRule
	t.ManualMapping = source == SourceManual
}

// CSVImport records one imported statement file.
type CSVImport struct {
	CreatedAt     time.Time
	ID            string
	TenantID      string
	BankAccountID string
	FileName      string
	FileSHA256    string
	Format        string
	ParsedCount   int
	ImportedCount int
}
