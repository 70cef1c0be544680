package budget

import (
	"testing"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMatchMapping(t *testing.T) {
	mappings := []model.CategoryMapping{
		testutil.Mapping("shop", "Shopping", model.FlowAll),
		testutil.Mapping("cool blue", "Electronics", model.FlowExpense),
		testutil.Mapping("employer nv", "Salary", model.FlowIncome),
		testutil.Mapping("", "Registered only", model.FlowAll),
	}

	tests := []struct {
		name         string
		tx           model.BankTransaction
		wantCategory string
		wantOK       bool
	}{
		{
			name:         "longest keyword wins",
			tx:           testutil.Transaction("a", "2024-01-01", -10, "Coolblue shop", ""),
			wantCategory: "Electronics",
			wantOK:       true,
		},
		{
			name:         "normalized keyword matches",
			tx:           testutil.Transaction("b", "2024-01-01", -10, "COOL-BLUE.BE", ""),
			wantCategory: "Electronics",
			wantOK:       true,
		},
		{
			name:         "flow mismatch is used as relaxed match",
			tx:           testutil.Transaction("c", "2024-01-01", -10, "Employer NV", "correction"),
			wantCategory: "Salary",
			wantOK:       true,
		},
		{
			name:         "flow compatible preferred over longer relaxed match",
			tx:           testutil.Transaction("d", "2024-01-01", -10, "Employer NV shop", ""),
			wantCategory: "Shopping",
			wantOK:       true,
		},
		{
			name: "no keyword matches",
			tx:   testutil.Transaction("e", "2024-01-01", -10, "Bakery", "bread"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MatchMapping(&tt.tx, mappings)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCategory, m.Category)
		})
	}
}

func TestMatchMapping_SkipsInactive(t *testing.T) {
	m := testutil.Mapping("bakery", "Food", model.FlowAll)
	m.Active = false
	tx := testutil.Transaction("a", "2024-01-01", -3, "Bakery", "")

	_, ok := MatchMapping(&tx, []model.CategoryMapping{m})
	assert.False(t, ok)
}

func TestFallbackCategory(t *testing.T) {
	tests := []struct {
		name         string
		counterparty string
		remittance   string
		movement     string
		want         string
		amount       float64
	}{
		{name: "salary", amount: 2500, counterparty: "Acme", remittance: "Loon januari", want: CategorySalary},
		{name: "refund", amount: 20, counterparty: "Webshop", remittance: "refund order 12", want: CategoryRefunds},
		{name: "other income", amount: 5, counterparty: "Friend", want: CategoryOtherIncome},
		{name: "management fee movement", amount: -2.5, movement: "Aanrekening beheerskost", want: CategoryBankFees},
		{name: "card", amount: -30, counterparty: "VISA purchase", want: CategoryCardExpenses},
		{name: "fees", amount: -1, remittance: "servicekost maart", want: CategoryBankFees},
		{name: "other expenses", amount: -12, counterparty: "Bakery", want: CategoryOtherExpenses},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := testutil.Transaction("x", "2024-01-01", tt.amount, tt.counterparty, tt.remittance)
			tx.MovementType = tt.movement
			assert.Equal(t, tt.want, FallbackCategory(&tx))
		})
	}
}

func TestTotals(t *testing.T) {
	rows := []model.AnalysisTransaction{
		{Category: "A", Flow: model.FlowIncome, Amount: 10, BookingDate: "2024-01-05"},
		{Category: "B", Flow: model.FlowExpense, Amount: -100, BookingDate: "2024-02-01"},
		{Category: "A", Flow: model.FlowExpense, Amount: -5},
	}

	categories, years, months := totals(rows)

	assert.Equal(t, []CategoryTotal{
		{Category: "B", Expense: 100},
		{Category: "A", Income: 10, Expense: 5},
	}, categories)
	assert.Equal(t, []PeriodTotal{
		{Period: "2024", Income: 10, Expense: 100},
		{Period: UnknownPeriod, Expense: 5},
	}, years)
	assert.Len(t, months, 3)
	assert.Equal(t, "2024-01", months[0].Period)
	assert.Equal(t, UnknownPeriod, months[2].Period)
}

func TestPromptBuilder(t *testing.T) {
	pb, err := NewPromptBuilder("")
	if !assert.NoError(t, err) {
		return
	}

	tx := testutil.Transaction("tx-9", "2024-01-01", -10, "Bakery", "bread")
	prompt, err := pb.ChunkPrompt([]compactTransaction{compact(&tx)},
		[]model.CategoryMapping{testutil.Mapping("colruyt", "Groceries", model.FlowExpense)},
		[]string{"Groceries", "Leisure"})
	assert.NoError(t, err)
	assert.Contains(t, prompt, DefaultInstructions)
	assert.Contains(t, prompt, "Groceries, Leisure")
	assert.Contains(t, prompt, `"external_transaction_id":"tx-9"`)
	assert.Contains(t, prompt, `"keyword":"colruyt"`)
	assert.Contains(t, prompt, "Mandatory categorization rules")

	summary, err := pb.SummaryPrompt([]CategoryTotal{{Category: "Groceries", Expense: 10}}, nil)
	assert.NoError(t, err)
	assert.Contains(t, summary, `"summary_points"`)
	assert.Contains(t, summary, `"category":"Groceries"`)
}
