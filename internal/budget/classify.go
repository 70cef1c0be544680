package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
)

// Payload limits keep prompts well under provider context limits.
const (
	maxCounterpartyLen = 120
	maxRemittanceLen   = 240
	maxMovementLen     = 80
	maxLinkedDocLen    = 220
	maxSummaryRows     = 120
)

// Classification is one model verdict for a transaction.
type Classification struct {
	ExternalTransactionID string       `json:"external_transaction_id"`
	Category              string       `json:"category"`
	Flow                  string       `json:"flow"`
	Reason                string       `json:"reason"`
	Source                model.Source `json:"-"`
}

// ChunkOutcome is the result of classifying one chunk. Err is set when the
// chunk failed; its rows then fall through to the rule fallback.
type ChunkOutcome struct {
	Err   error
	Rows  []Classification
	Index int
}

type compactTransaction struct {
	ExternalTransactionID string  `json:"external_transaction_id"`
	BookingDate           string  `json:"booking_date"`
	Currency              string  `json:"currency"`
	CounterpartyName      string  `json:"counterparty_name"`
	RemittanceInformation string  `json:"remittance_information"`
	MovementType          string  `json:"movement_type"`
	LinkedDocumentContext string  `json:"linked_document_context"`
	Amount                float64 `json:"amount"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func compact(tx *model.BankTransaction) compactTransaction {
	return compactTransaction{
		ExternalTransactionID: tx.ExternalTransactionID,
		BookingDate:           model.FormatDate(tx.BookingDate),
		Amount:                tx.Amount,
		Currency:              tx.CurrencyOrDefault(),
		CounterpartyName:      truncate(tx.CounterpartyName, maxCounterpartyLen),
		RemittanceInformation: truncate(tx.RemittanceInformation, maxRemittanceLen),
		MovementType:          truncate(tx.MovementType, maxMovementLen),
		LinkedDocumentContext: truncate(tx.LinkedDocumentContext, maxLinkedDocLen),
	}
}

type chunkResponse struct {
	TransactionCategories []Classification `json:"transaction_categories"`
}

type summaryResponse struct {
	SummaryPoints []string `json:"summary_points"`
}

// classifyChunks sends pending transactions to the model in chunks. Chunks
// run sequentially; a failed chunk does not stop the ones after it.
func (c *Categorizer) classifyChunks(ctx context.Context, pending []*model.BankTransaction, mappings []model.CategoryMapping, categories []string, progress func(done int)) []ChunkOutcome {
	size := c.chunkSize
	outcomes := make([]ChunkOutcome, 0, (len(pending)+size-1)/size)

	for start, index := 0, 0; start < len(pending); start, index = start+size, index+1 {
		end := min(start+size, len(pending))
		chunk := make([]compactTransaction, 0, end-start)
		for _, tx := range pending[start:end] {
			chunk = append(chunk, compact(tx))
		}

		outcome := ChunkOutcome{Index: index}
		outcome.Rows, outcome.Err = c.classifyChunk(ctx, chunk, mappings, categories)
		if outcome.Err != nil {
			c.logger.Warn("Chunk classification failed",
				"chunk", index,
				"size", len(chunk),
				"error", outcome.Err)
		}
		outcomes = append(outcomes, outcome)

		if progress != nil {
			progress(end)
		}
	}
	return outcomes
}

func (c *Categorizer) classifyChunk(ctx context.Context, chunk []compactTransaction, mappings []model.CategoryMapping, categories []string) ([]Classification, error) {
	prompt, err := c.prompts.ChunkPrompt(chunk, mappings, categories)
	if err != nil {
		return nil, err
	}
	raw, err := c.llm.CompleteJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var resp chunkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedOutput, err)
	}

	rows := make([]Classification, 0, len(resp.TransactionCategories))
	for _, r := range resp.TransactionCategories {
		r.ExternalTransactionID = strings.TrimSpace(r.ExternalTransactionID)
		r.Category = strings.TrimSpace(r.Category)
		if r.ExternalTransactionID == "" || r.Category == "" {
			continue
		}
		r.Source = model.SourceLLM
		rows = append(rows, r)
	}
	return rows, nil
}

// summarize asks the model for summary points over per-category totals.
func (c *Categorizer) summarize(ctx context.Context, totals []CategoryTotal, mappings []model.CategoryMapping) ([]string, error) {
	if len(totals) > maxSummaryRows {
		totals = totals[:maxSummaryRows]
	}
	prompt, err := c.prompts.SummaryPrompt(totals, mappings)
	if err != nil {
		return nil, err
	}
	raw, err := c.llm.CompleteJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var resp summaryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedOutput, err)
	}

	points := make([]string, 0, len(resp.SummaryPoints))
	for _, p := range resp.SummaryPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	return points, nil
}
