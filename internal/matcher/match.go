package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
)

// LLM is the part of the gateway the matcher needs.
type LLM interface {
	CompleteJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Result is an accepted match.
type Result struct {
	Transaction *model.BankTransaction
	Confidence  model.Confidence
	Reason      string
	Score       int
}

// BankMatch converts the result into the persisted match record of docID.
func (r Result) BankMatch(docID string) model.BankMatch {
	return model.BankMatch{
		DocumentID:            docID,
		ExternalTransactionID: r.Transaction.ExternalTransactionID,
		Confidence:            r.Confidence,
		Reason:                r.Reason,
		Score:                 r.Score,
	}
}

// Matcher finds the bank transaction that paid a document.
type Matcher struct {
	llm    LLM
	logger *slog.Logger
	policy Policy
}

// New creates a matcher. llm may be nil, which disables the receipt fallback.
func New(policy Policy, llm LLM, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = common.ComponentLogger("matcher")
	}
	return &Matcher{
		policy: policy.WithDefaults(),
		llm:    llm,
		logger: logger,
	}
}

// Policy returns the effective policy.
func (m *Matcher) Policy() Policy { return m.policy }

// Best returns the highest scoring heuristic candidate. Ties keep the
// earliest candidate in txs.
func (m *Matcher) Best(doc *model.Document, txs []model.BankTransaction) (Candidate, bool) {
	var best Candidate
	found := false
	for i := range txs {
		c, ok := Score(doc, &txs[i], m.policy)
		if !ok {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

// Match reconciles doc against txs. The heuristic runs first; receipts that
// score below the accept threshold get one model attempt over the
// candidates that pass the amount, currency and date filters.
func (m *Matcher) Match(ctx context.Context, doc *model.Document, txs []model.BankTransaction) (Result, bool) {
	best, found := m.Best(doc, txs)
	if found && best.Score >= m.policy.AcceptThreshold {
		return Result(best), true
	}

	if !m.policy.LLMFallback || m.llm == nil || !doc.HasCategory(m.policy.ReceiptCategories) {
		return Result{}, false
	}

	var candidates []*model.BankTransaction
	for i := range txs {
		if isLLMCandidate(doc, &txs[i], m.policy) {
			candidates = append(candidates, &txs[i])
			if len(candidates) == m.policy.LLMCandidateLimit {
				break
			}
		}
	}
	if len(candidates) == 0 {
		return Result{}, false
	}

	v, err := m.askModel(ctx, doc, candidates)
	if err != nil {
		m.logger.Warn("Model match failed", "document_id", doc.ID, "error", err)
		return Result{}, false
	}
	if !v.Matched || v.ExternalTransactionID == "" {
		return Result{}, false
	}

	for _, tx := range candidates {
		if tx.ExternalTransactionID != v.ExternalTransactionID {
			continue
		}
		confidence := model.ParseConfidence(v.Confidence)
		score := m.policy.LLMScore
		if confidence == model.ConfidenceLow {
			score = m.policy.LLMLowScore
		}
		reason := "LLM pattern recognition"
		if r := strings.TrimSpace(v.Reason); r != "" {
			reason += ": " + r
		}
		return Result{Transaction: tx, Confidence: confidence, Reason: reason, Score: score}, true
	}

	m.logger.Debug("Model picked an unknown transaction",
		"document_id", doc.ID,
		"external_transaction_id", v.ExternalTransactionID)
	return Result{}, false
}

type verdict struct {
	ExternalTransactionID string `json:"external_transaction_id"`
	Confidence            string `json:"confidence"`
	Reason                string `json:"reason"`
	Matched               bool   `json:"matched"`
}

type promptDocument struct {
	ID                  string   `json:"id"`
	Category            string   `json:"category"`
	Issuer              string   `json:"issuer"`
	Subject             string   `json:"subject"`
	DocumentDate        string   `json:"document_date"`
	DueDate             string   `json:"due_date"`
	Currency            string   `json:"currency"`
	IBAN                string   `json:"iban"`
	StructuredReference string   `json:"structured_reference"`
	TotalAmount         *float64 `json:"total_amount"`
}

type promptCandidate struct {
	ExternalTransactionID string  `json:"external_transaction_id"`
	BookingDate           string  `json:"booking_date"`
	Currency              string  `json:"currency"`
	CounterpartyName      string  `json:"counterparty_name"`
	RemittanceInformation string  `json:"remittance_information"`
	RawJSON               string  `json:"raw_json"`
	Amount                float64 `json:"amount"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const matchPromptTemplate = `You check whether a bank transaction pays a document.
Return ONLY valid JSON.

Document:
%s

Candidates:
%s

Match rules (in priority order):
1) Strong: exact amount + IBAN match + memo or structured reference match.
2) Fallback: exact amount + IBAN match + document_date within 3 months of booking_date.
3) Fallback: exact amount + document_date within 3 months + part of the issuer name (>=4 chars) in memo or counterparty.

Response schema:
{
  "matched": true|false,
  "external_transaction_id": "string|null",
  "confidence": "high|medium|low",
  "reason": "short reason"
}

Rules:
- If no candidate clearly qualifies: matched=false.
- Pick at most 1 candidate.
- confidence=high for rule 1, medium for rule 2, low for rule 3.
`

func buildMatchPrompt(doc *model.Document, candidates []*model.BankTransaction) (string, error) {
	d := promptDocument{
		ID:                  doc.ID,
		Category:            doc.Category,
		Issuer:              doc.Issuer,
		Subject:             doc.Subject,
		DocumentDate:        model.FormatDate(doc.DocumentDate),
		DueDate:             model.FormatDate(doc.DueDate),
		Currency:            doc.Currency,
		IBAN:                doc.IBAN,
		StructuredReference: doc.StructuredReference,
		TotalAmount:         doc.TotalAmount,
	}
	cs := make([]promptCandidate, 0, len(candidates))
	for _, tx := range candidates {
		cs = append(cs, promptCandidate{
			ExternalTransactionID: tx.ExternalTransactionID,
			BookingDate:           model.FormatDate(tx.BookingDate),
			Amount:                tx.Amount,
			Currency:              tx.Currency,
			CounterpartyName:      truncate(tx.CounterpartyName, 140),
			RemittanceInformation: truncate(tx.RemittanceInformation, 320),
			RawJSON:               truncate(tx.RawJSON, 320),
		})
	}
	docJSON, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	candJSON, err := json.Marshal(cs)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}
	return fmt.Sprintf(matchPromptTemplate, docJSON, candJSON), nil
}

func (m *Matcher) askModel(ctx context.Context, doc *model.Document, candidates []*model.BankTransaction) (verdict, error) {
	prompt, err := buildMatchPrompt(doc, candidates)
	if err != nil {
		return verdict{}, err
	}
	raw, err := m.llm.CompleteJSON(ctx, prompt)
	if err != nil {
		return verdict{}, err
	}
	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return verdict{}, fmt.Errorf("%w: %w", common.ErrMalformedOutput, err)
	}
	v.ExternalTransactionID = strings.TrimSpace(v.ExternalTransactionID)
	return v, nil
}
