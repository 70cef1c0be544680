package model

import "time"

// Well-known AnalysisRun providers that are not model vendors.
const (
	ProviderMappingRefresh   = "mapping-refresh"
	ProviderManualCorrection = "manual-correction"
	ModelRulesOnly           = "rules-only"
)

// AnalysisRun is an immutable cached categorization batch.
type AnalysisRun struct {
	CreatedAt        time.Time
	ID               string
	TenantID         string
	SourceHash       string
	Provider         string
	Model            string
	PromptHash       string
	MappingsHash     string
	TransactionsHash string
	Summary          []string
	TxCount          int
}

// AnalysisTransaction is one categorized transaction inside an AnalysisRun.
type AnalysisTransaction struct {
	RunID                 string  `json:"-"`
	ExternalTransactionID string  `json:"external_transaction_id"`
	BookingDate           string  `json:"booking_date"`
	Currency              string  `json:"currency"`
	CounterpartyName      string  `json:"counterparty_name"`
	RemittanceInformation string  `json:"remittance_information"`
	Category              string  `json:"category"`
	Flow                  Flow    `json:"flow"`
	Source                Source  `json:"source"`
	Reason                string  `json:"reason"`
	Amount                float64 `json:"amount"`
}
