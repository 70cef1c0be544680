package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	err      error
	response string
	prompts  []string
}

func (f *fakeLLM) CompleteJSON(_ context.Context, prompt string) (json.RawMessage, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func amount(v float64) *float64 { return &v }

func invoice() *model.Document {
	return &model.Document{
		ID:                  "doc-1",
		Category:            "factuur",
		Issuer:              "Acme Utilities",
		Subject:             "Electricity March",
		Currency:            "EUR",
		IBAN:                "BE71 0961 2345 6769",
		StructuredReference: "+++090/9337/55493+++",
		DocumentDate:        day("2024-03-01"),
		DueDate:             day("2024-03-31"),
		TotalAmount:         amount(125.50),
	}
}

func ibanPayment(extID string) model.BankTransaction {
	return model.BankTransaction{
		ExternalTransactionID: extID,
		BookingDate:           day("2024-03-10"),
		Amount:                -125.50,
		Currency:              "EUR",
		CounterpartyName:      "ACME UTILITIES",
		CounterpartyIBAN:      "BE71096123456769",
		RemittanceInformation: "+++090/9337/55493+++",
	}
}

func TestScore(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		doc            func() *model.Document
		tx             func() model.BankTransaction
		name           string
		wantConfidence model.Confidence
		wantScore      int
		wantOK         bool
	}{
		{
			name:           "iban and structured reference",
			doc:            invoice,
			tx:             func() model.BankTransaction { return ibanPayment("tx-1") },
			wantOK:         true,
			wantScore:      128,
			wantConfidence: model.ConfidenceHigh,
		},
		{
			name: "iban without memo inside window",
			doc:  invoice,
			tx: func() model.BankTransaction {
				tx := ibanPayment("tx-1")
				tx.CounterpartyName = "Energy Co"
				tx.RemittanceInformation = "march"
				return tx
			},
			wantOK:         true,
			wantScore:      83,
			wantConfidence: model.ConfidenceMedium,
		},
		{
			name: "issuer name part without iban",
			doc: func() *model.Document {
				return &model.Document{
					Issuer:       "Globex Corporation NV",
					DocumentDate: day("2024-05-01"),
					TotalAmount:  amount(42),
				}
			},
			tx: func() model.BankTransaction {
				return model.BankTransaction{
					BookingDate:           day("2024-05-20"),
					Amount:                -42,
					CounterpartyName:      "GLOBEX CORP",
					RemittanceInformation: "invoice 5521",
				}
			},
			wantOK:         true,
			wantScore:      67,
			wantConfidence: model.ConfidenceLow,
		},
		{
			name: "amount outside tolerance",
			doc:  invoice,
			tx: func() model.BankTransaction {
				tx := ibanPayment("tx-1")
				tx.Amount = -125.60
				return tx
			},
		},
		{
			name: "currency mismatch",
			doc: func() *model.Document {
				d := invoice()
				d.Currency = "USD"
				return d
			},
			tx: func() model.BankTransaction { return ibanPayment("tx-1") },
		},
		{
			name: "paid long before the document",
			doc:  invoice,
			tx: func() model.BankTransaction {
				tx := ibanPayment("tx-1")
				tx.BookingDate = day("2024-02-10")
				return tx
			},
		},
		{
			name: "paid more than a year after due date",
			doc:  invoice,
			tx: func() model.BankTransaction {
				tx := ibanPayment("tx-1")
				tx.BookingDate = day("2025-04-15")
				return tx
			},
		},
		{
			name: "stopword is not a name match",
			doc: func() *model.Document {
				return &model.Document{
					Issuer:       "The Shop Gent",
					DocumentDate: day("2024-05-01"),
					TotalAmount:  amount(10),
				}
			},
			tx: func() model.BankTransaction {
				return model.BankTransaction{
					BookingDate:      day("2024-05-02"),
					Amount:           -10,
					CounterpartyName: "SHOP GENT",
				}
			},
		},
		{
			name: "document without amount",
			doc: func() *model.Document {
				d := invoice()
				d.TotalAmount = nil
				return d
			},
			tx: func() model.BankTransaction { return ibanPayment("tx-1") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.tx()
			got, ok := Score(tt.doc(), &tx, policy)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantConfidence, got.Confidence)
		})
	}
}

func TestMatcher_TieKeepsEarliest(t *testing.T) {
	m := New(DefaultPolicy(), nil, nil)
	txs := []model.BankTransaction{ibanPayment("first"), ibanPayment("second")}

	got, ok := m.Match(context.Background(), invoice(), txs)
	require.True(t, ok)
	assert.Equal(t, "first", got.Transaction.ExternalTransactionID)
	assert.Equal(t, ReasonStrict, got.Reason)
}

func TestMatcher_HigherTierWins(t *testing.T) {
	m := New(DefaultPolicy(), nil, nil)
	weak := ibanPayment("weak")
	weak.RemittanceInformation = "other"
	weak.CounterpartyName = "x"
	txs := []model.BankTransaction{weak, ibanPayment("strong")}

	got, ok := m.Match(context.Background(), invoice(), txs)
	require.True(t, ok)
	assert.Equal(t, "strong", got.Transaction.ExternalTransactionID)

	match := got.BankMatch("doc-1")
	assert.Equal(t, "doc-1", match.DocumentID)
	assert.Equal(t, model.ConfidenceHigh, match.Confidence)
}

func receipt() *model.Document {
	return &model.Document{
		ID:           "doc-r",
		Category:     "kasticket",
		Issuer:       "Bakkerij Janssens",
		DocumentDate: day("2024-06-01"),
		TotalAmount:  amount(7.80),
	}
}

func receiptTransactions() []model.BankTransaction {
	return []model.BankTransaction{
		{ExternalTransactionID: "tx-1", BookingDate: day("2024-06-01"), Amount: -3.10, CounterpartyName: "PAYCONIQ"},
		{ExternalTransactionID: "tx-2", BookingDate: day("2024-06-02"), Amount: -7.80, CounterpartyName: "PAYCONIQ 88231"},
		{ExternalTransactionID: "tx-3", BookingDate: day("2024-12-24"), Amount: -7.80, CounterpartyName: "PAYCONIQ 1"},
	}
}

func TestMatcher_ReceiptFallback(t *testing.T) {
	tests := []struct {
		llm            *fakeLLM
		doc            func() *model.Document
		name           string
		wantReason     string
		wantConfidence model.Confidence
		wantScore      int
		wantCalls      int
		wantOK         bool
	}{
		{
			name:           "medium confidence",
			llm:            &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-2","confidence":"medium","reason":"same day payment"}`},
			doc:            receipt,
			wantOK:         true,
			wantCalls:      1,
			wantScore:      85,
			wantConfidence: model.ConfidenceMedium,
			wantReason:     "LLM pattern recognition: same day payment",
		},
		{
			name:           "unknown confidence becomes low",
			llm:            &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-2","confidence":"certain"}`},
			doc:            receipt,
			wantOK:         true,
			wantCalls:      1,
			wantScore:      70,
			wantConfidence: model.ConfidenceLow,
			wantReason:     "LLM pattern recognition",
		},
		{
			name:      "transaction outside the candidate set",
			llm:       &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-3","confidence":"high"}`},
			doc:       receipt,
			wantCalls: 1,
		},
		{
			name:      "model declines",
			llm:       &fakeLLM{response: `{"matched":false}`},
			doc:       receipt,
			wantCalls: 1,
		},
		{
			name:      "model error",
			llm:       &fakeLLM{err: errors.New("upstream down")},
			doc:       receipt,
			wantCalls: 1,
		},
		{
			name: "not a receipt",
			llm:  &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-2","confidence":"high"}`},
			doc: func() *model.Document {
				d := receipt()
				d.Category = "factuur"
				return d
			},
		},
		{
			name: "currency mismatch never reaches the model",
			llm:  &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-2","confidence":"high"}`},
			doc: func() *model.Document {
				d := receipt()
				d.Currency = "USD"
				return d
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := receiptTransactions()
			for i := range txs {
				txs[i].Currency = "EUR"
			}
			m := New(DefaultPolicy(), tt.llm, nil)

			got, ok := m.Match(context.Background(), tt.doc(), txs)
			assert.Len(t, tt.llm.prompts, tt.wantCalls)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, "tx-2", got.Transaction.ExternalTransactionID)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantConfidence, got.Confidence)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestMatcher_PromptOnlyHoldsCandidates(t *testing.T) {
	llm := &fakeLLM{response: `{"matched":false}`}
	m := New(DefaultPolicy(), llm, nil)

	_, ok := m.Match(context.Background(), receipt(), receiptTransactions())
	require.False(t, ok)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], `"tx-2"`)
	assert.NotContains(t, llm.prompts[0], `"tx-1"`)
	assert.NotContains(t, llm.prompts[0], `"tx-3"`)
}

func TestMatcher_FallbackDisabled(t *testing.T) {
	llm := &fakeLLM{response: `{"matched":true,"external_transaction_id":"tx-2"}`}
	policy := DefaultPolicy()
	policy.LLMFallback = false
	m := New(policy, llm, nil)

	_, ok := m.Match(context.Background(), receipt(), receiptTransactions())
	assert.False(t, ok)
	assert.Empty(t, llm.prompts)
}

func TestRemark(t *testing.T) {
	tx := ibanPayment("tx-1")
	tx.RemittanceInformation = ""

	high := Remark(Result{Transaction: &tx, Confidence: model.ConfidenceHigh, Reason: ReasonStrict, Score: 128})
	assert.Equal(t,
		"[BANK CHECK] transaction 2024-03-10 | -125,50 EUR | counterparty: ACME UTILITIES | memo: - [Accuracy: high (95-100%) | "+ReasonStrict+"]",
		high)

	tx.CounterpartyName = ""
	low := Remark(Result{Transaction: &tx, Confidence: model.ConfidenceLow})
	assert.Contains(t, low, "counterparty: Unknown counterparty")
	assert.Contains(t, low, "[Accuracy: indicative (65-79%)]")
	assert.True(t, strings.HasSuffix(low, "[NOTE: not a 100% match, but a good estimate.]"))
}

func TestAppendRemark(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		line     string
		want     string
	}{
		{name: "empty", existing: "", line: "a", want: "a"},
		{name: "append", existing: "note", line: "a", want: "note\na"},
		{name: "already present", existing: "note\na", line: "a", want: "note\na"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AppendRemark(tt.existing, tt.line))
		})
	}
}
