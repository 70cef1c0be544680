// Package matcher reconciles financial documents against bank transactions
// with a tiered heuristic and an optional model fallback for receipts.
package matcher

import "github.com/deknijf/documentstore/internal/config"

// Policy holds the tunable constants of the match heuristic.
type Policy struct {
	ReceiptCategories     []string
	PayableCategories     []string
	AmountTolerance       float64
	AcceptThreshold       int
	StrictScore           int
	FallbackScore         int
	NameScore             int
	DueDateBonus          int
	AfterDocumentBonus    int
	ReferenceBonus        int
	MaxDaysBeforeDocument int
	MaxDaysAfterDue       int
	FallbackWindowDays    int
	LLMCandidateLimit     int
	LLMLowScore           int
	LLMScore              int
	LLMFallback           bool
}

// DefaultPolicy returns the production constants.
func DefaultPolicy() Policy {
	return Policy{
		ReceiptCategories:     []string{"kasticket", "receipt"},
		PayableCategories:     []string{"factuur", "rekening", "kasticket", "invoice", "bill", "receipt"},
		AmountTolerance:       0.02,
		AcceptThreshold:       60,
		StrictScore:           120,
		FallbackScore:         80,
		NameScore:             65,
		DueDateBonus:          3,
		AfterDocumentBonus:    2,
		ReferenceBonus:        5,
		MaxDaysBeforeDocument: 14,
		MaxDaysAfterDue:       365,
		FallbackWindowDays:    93,
		LLMCandidateLimit:     8,
		LLMLowScore:           70,
		LLMScore:              85,
		LLMFallback:           true,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if len(p.ReceiptCategories) == 0 {
		p.ReceiptCategories = d.ReceiptCategories
	}
	if len(p.PayableCategories) == 0 {
		p.PayableCategories = d.PayableCategories
	}
	if p.AmountTolerance <= 0 {
		p.AmountTolerance = d.AmountTolerance
	}
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&p.AcceptThreshold, d.AcceptThreshold)
	setInt(&p.StrictScore, d.StrictScore)
	setInt(&p.FallbackScore, d.FallbackScore)
	setInt(&p.NameScore, d.NameScore)
	setInt(&p.DueDateBonus, d.DueDateBonus)
	setInt(&p.AfterDocumentBonus, d.AfterDocumentBonus)
	setInt(&p.ReferenceBonus, d.ReferenceBonus)
	setInt(&p.MaxDaysBeforeDocument, d.MaxDaysBeforeDocument)
	setInt(&p.MaxDaysAfterDue, d.MaxDaysAfterDue)
	setInt(&p.FallbackWindowDays, d.FallbackWindowDays)
	setInt(&p.LLMCandidateLimit, d.LLMCandidateLimit)
	setInt(&p.LLMLowScore, d.LLMLowScore)
	setInt(&p.LLMScore, d.LLMScore)
	return p
}

// PolicyFromConfig builds a policy from the matcher section of the config.
func PolicyFromConfig(c config.MatcherConfig) Policy {
	p := DefaultPolicy()
	p.LLMFallback = c.LLMFallback
	if len(c.ReceiptCategories) > 0 {
		p.ReceiptCategories = c.ReceiptCategories
	}
	if len(c.PayableCategories) > 0 {
		p.PayableCategories = c.PayableCategories
	}
	if c.AmountTolerance > 0 {
		p.AmountTolerance = c.AmountTolerance
	}
	override := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	override(&p.AcceptThreshold, c.AcceptThreshold)
	override(&p.StrictScore, c.StrictScore)
	override(&p.FallbackScore, c.FallbackScore)
	override(&p.NameScore, c.NameScore)
	override(&p.MaxDaysBeforeDocument, c.MaxDaysBeforeDocument)
	override(&p.MaxDaysAfterDue, c.MaxDaysAfterDue)
	override(&p.FallbackWindowDays, c.FallbackWindowDays)
	return p
}
