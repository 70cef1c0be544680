package model

import "strings"

// Flow tells whether a transaction counts as income or expense.
type Flow string

const (
	// FlowIncome is used for inflows (amount >= 0).
	FlowIncome Flow = "income"
	// FlowExpense is used for outflows (amount < 0).
	FlowExpense Flow = "expense"
	// FlowAll matches both directions; only valid on mappings.
	FlowAll Flow = "all"
)

// FlowForAmount derives the flow from the sign of an amount.
func FlowForAmount(amount float64) Flow {
	if amount >= 0 {
		return FlowIncome
	}
	return FlowExpense
}

// ParseFlow normalizes free-form flow text, defaulting to FlowAll.
func ParseFlow(s string) Flow {
	switch Flow(strings.ToLower(strings.TrimSpace(s))) {
	case FlowIncome:
		return FlowIncome
	case FlowExpense:
		return FlowExpense
	default:
		return FlowAll
	}
}

// Accepts reports whether a mapping with flow f applies to a transaction with flow tx.
func (f Flow) Accepts(tx Flow) bool {
	return f == FlowAll || f == tx
}

// Source records which categorization stage produced a category.
type Source string

const (
	// SourceManual is a human override.
	SourceManual Source = "manual"
	// SourceMapping comes from an explicit keyword mapping.
	SourceMapping Source = "mapping"
	// SourceLLM comes from a model classification.
	SourceLLM Source = "llm"
	// SourceRule comes from the deterministic keyword fallback.
	SourceRule Source = "rule"
)

// Confidence is the tier of a document/transaction match.
type Confidence string

const (
	// ConfidenceHigh is an amount + IBAN + memo match.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium is an amount + IBAN match inside the fallback window.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow is an issuer-name match inside the fallback window.
	ConfidenceLow Confidence = "low"
)

// ParseConfidence maps model output onto a tier; anything unknown is low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
