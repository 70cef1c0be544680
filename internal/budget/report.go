package budget

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
)

// UnknownPeriod labels transactions without a booking date.
const UnknownPeriod = "Unknown"

// CategoryTotal sums one category per flow.
type CategoryTotal struct {
	Category string  `json:"category"`
	Income   float64 `json:"income"`
	Expense  float64 `json:"expense"`
}

// PeriodTotal sums one year (YYYY) or month (YYYY-MM) per flow.
type PeriodTotal struct {
	Period  string  `json:"period"`
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
}

// Report is the outcome of a categorization pass.
type Report struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	RunID          string                      `json:"run_id,omitempty"`
	Provider       string                      `json:"provider"`
	Model          string                      `json:"model"`
	SummaryPoints  []string                    `json:"summary_points"`
	Transactions   []model.AnalysisTransaction `json:"transactions"`
	CategoryTotals []CategoryTotal             `json:"category_totals"`
	YearTotals     []PeriodTotal               `json:"year_totals"`
	MonthTotals    []PeriodTotal               `json:"month_totals"`
	MappingsCount  int                         `json:"mappings_count"`
	FailedChunks   int                         `json:"failed_chunks"`
	Updated        int                         `json:"updated"`
	LearnedCount   int                         `json:"learned_categories"`
	Cached         bool                        `json:"cached"`
	PromptUsed     bool                        `json:"prompt_used"`
}

type flowSums struct {
	income  decimal.Decimal
	expense decimal.Decimal
}

func (s *flowSums) add(flow model.Flow, amount float64) {
	abs := decimal.NewFromFloat(amount).Abs()
	if flow == model.FlowIncome {
		s.income = s.income.Add(abs)
	} else {
		s.expense = s.expense.Add(abs)
	}
}

type accumulator struct {
	sums  map[string]*flowSums
	order []string
}

func newAccumulator() *accumulator {
	return &accumulator{sums: make(map[string]*flowSums)}
}

func (a *accumulator) add(key string, flow model.Flow, amount float64) {
	s, ok := a.sums[key]
	if !ok {
		s = &flowSums{}
		a.sums[key] = s
		a.order = append(a.order, key)
	}
	s.add(flow, amount)
}

func period(bookingDate string, n int) string {
	if len(bookingDate) < n {
		return UnknownPeriod
	}
	return bookingDate[:n]
}

// totals aggregates categorized rows. Categories are ordered by volume,
// periods chronologically.
func totals(rows []model.AnalysisTransaction) ([]CategoryTotal, []PeriodTotal, []PeriodTotal) {
	categories, years, months := newAccumulator(), newAccumulator(), newAccumulator()
	for _, r := range rows {
		categories.add(r.Category, r.Flow, r.Amount)
		years.add(period(r.BookingDate, 4), r.Flow, r.Amount)
		months.add(period(r.BookingDate, 7), r.Flow, r.Amount)
	}

	catTotals := make([]CategoryTotal, 0, len(categories.order))
	for _, name := range categories.order {
		s := categories.sums[name]
		catTotals = append(catTotals, CategoryTotal{
			Category: name,
			Income:   s.income.InexactFloat64(),
			Expense:  s.expense.InexactFloat64(),
		})
	}
	slices.SortStableFunc(catTotals, func(a, b CategoryTotal) int {
		return cmp.Compare(b.Income+b.Expense, a.Income+a.Expense)
	})

	return catTotals, periodTotals(years), periodTotals(months)
}

func periodTotals(a *accumulator) []PeriodTotal {
	out := make([]PeriodTotal, 0, len(a.order))
	for _, p := range a.order {
		s := a.sums[p]
		out = append(out, PeriodTotal{
			Period:  p,
			Income:  s.income.InexactFloat64(),
			Expense: s.expense.InexactFloat64(),
		})
	}
	slices.SortFunc(out, func(a, b PeriodTotal) int {
		return strings.Compare(a.Period, b.Period)
	})
	return out
}
