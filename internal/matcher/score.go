package matcher

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
)

// Match reasons.
const (
	ReasonStrict   = "Strong match on amount + IBAN + memo"
	ReasonFallback = "Match on amount + IBAN (no memo match)"
	ReasonName     = "Match on amount + issuer name (no IBAN)"
)

// Candidate is a scored document/transaction pair.
type Candidate struct {
	Transaction *model.BankTransaction
	Confidence  model.Confidence
	Reason      string
	Score       int
}

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// nameStopwords are legal forms, filler words and city names that appear in
// issuer names but say nothing about the payee.
var nameStopwords = map[string]struct{}{
	"vzw": {}, "bvba": {}, "bvb": {}, "nv": {}, "cv": {}, "az": {},
	"the": {}, "shop": {}, "store": {},
	"gent": {}, "brugge": {}, "belgie": {}, "belgium": {},
}

func tokens(s string, minLen int) []string {
	var out []string
	for _, t := range tokenSplit.Split(strings.ToLower(s), -1) {
		if len(t) >= minLen {
			out = append(out, t)
		}
	}
	return out
}

func firstN(ts []string, n int) []string {
	if len(ts) > n {
		return ts[:n]
	}
	return ts
}

// issuerNameParts returns the distinct issuer tokens usable for the name tier.
func issuerNameParts(issuer string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokens(issuer, 4) {
		if _, stop := nameStopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n = fingerprint.NormalizeText(n); n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func daysBetween(a, b time.Time) int {
	d := a.Sub(b).Hours() / 24
	return int(math.Round(math.Abs(d)))
}

// amountMatches compares the absolute transaction amount to the document total.
func amountMatches(doc *model.Document, tx *model.BankTransaction, p Policy) bool {
	amount := doc.Amount()
	if amount <= 0 {
		return false
	}
	return math.Abs(math.Abs(tx.Amount)-amount) <= p.AmountTolerance+1e-9
}

// currencyConflicts is true only when both sides name a different currency.
func currencyConflicts(doc *model.Document, tx *model.BankTransaction) bool {
	dc := strings.TrimSpace(doc.Currency)
	tc := strings.TrimSpace(tx.Currency)
	return dc != "" && tc != "" && !strings.EqualFold(dc, tc)
}

// Score grades one transaction against a document. ok is false when the
// pair is rejected.
func Score(doc *model.Document, tx *model.BankTransaction, p Policy) (Candidate, bool) {
	if !amountMatches(doc, tx, p) || currencyConflicts(doc, tx) {
		return Candidate{}, false
	}

	txDate := tx.BookingDate
	docDate := doc.DocumentDate
	dueDate := doc.DueDate
	if !txDate.IsZero() && !docDate.IsZero() && txDate.Before(docDate.AddDate(0, 0, -p.MaxDaysBeforeDocument)) {
		return Candidate{}, false
	}
	if !txDate.IsZero() && !dueDate.IsZero() && txDate.After(dueDate.AddDate(0, 0, p.MaxDaysAfterDue)) {
		return Candidate{}, false
	}

	joined := strings.Join([]string{tx.CounterpartyName, tx.CounterpartyIBAN, tx.RemittanceInformation, tx.RawJSON}, " ")
	joinedNorm := fingerprint.NormalizeText(joined)
	joinedDigits := fingerprint.Digits(joined)

	ibanNorm := fingerprint.NormalizeIBAN(doc.IBAN)
	ibanMatch := ibanNorm != "" && strings.Contains(fingerprint.NormalizeIBAN(joined), ibanNorm)

	refDigits := fingerprint.Digits(doc.StructuredReference)
	refNorm := fingerprint.NormalizeText(doc.StructuredReference)
	memoMatch := (refDigits != "" && strings.Contains(joinedDigits, refDigits)) ||
		(refNorm != "" && strings.Contains(joinedNorm, refNorm))
	if !memoMatch {
		memoMatch = containsAny(joinedNorm, firstN(tokens(doc.Subject, 6), 4)) ||
			containsAny(joinedNorm, firstN(tokens(doc.Issuer, 4), 3))
	}

	withinWindow := !txDate.IsZero() && !docDate.IsZero() && daysBetween(txDate, docDate) <= p.FallbackWindowDays
	nameMatch := containsAny(joinedNorm, firstN(issuerNameParts(doc.Issuer), 6))

	c := Candidate{Transaction: tx}
	switch {
	case ibanMatch && memoMatch:
		c.Score, c.Confidence, c.Reason = p.StrictScore, model.ConfidenceHigh, ReasonStrict
	case ibanMatch && withinWindow:
		c.Score, c.Confidence, c.Reason = p.FallbackScore, model.ConfidenceMedium, ReasonFallback
	case nameMatch && withinWindow:
		c.Score, c.Confidence, c.Reason = p.NameScore, model.ConfidenceLow, ReasonName
	default:
		return Candidate{}, false
	}

	switch {
	case !txDate.IsZero() && !dueDate.IsZero() && !txDate.After(dueDate):
		c.Score += p.DueDateBonus
	case !txDate.IsZero() && !docDate.IsZero() && !txDate.Before(docDate):
		c.Score += p.AfterDocumentBonus
	}
	if memoMatch && refDigits != "" {
		c.Score += p.ReferenceBonus
	}

	return c, true
}

// isLLMCandidate reports whether tx may be shown to the model for doc:
// amount and currency agree and both dates fall inside the fallback window.
func isLLMCandidate(doc *model.Document, tx *model.BankTransaction, p Policy) bool {
	if !amountMatches(doc, tx, p) || currencyConflicts(doc, tx) {
		return false
	}
	if tx.BookingDate.IsZero() || doc.DocumentDate.IsZero() {
		return false
	}
	return daysBetween(tx.BookingDate, doc.DocumentDate) <= p.FallbackWindowDays
}
