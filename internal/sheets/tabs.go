package sheets

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/deknijf/documentstore/internal/budget"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
)

// Tab names, in the order they are created.
const (
	TabSummary      = "Summary"
	TabCategories   = "Categories"
	TabMonths       = "Months"
	TabTransactions = "Transactions"
)

// Tabs lists every tab the writer manages.
var Tabs = []string{TabSummary, TabCategories, TabMonths, TabTransactions}

// Tab is the content of one sheet. MoneyColumns are zero based.
type Tab struct {
	Name         string
	Values       [][]any
	MoneyColumns []int
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func cell(d decimal.Decimal) any {
	return d.Round(2).InexactFloat64()
}

// BuildTabs lays out a report as sheet values.
func BuildTabs(report *budget.Report) []Tab {
	return []Tab{
		summaryTab(report),
		categoriesTab(report),
		monthsTab(report),
		transactionsTab(report),
	}
}

func summaryTab(report *budget.Report) Tab {
	income, expense := decimal.Zero, decimal.Zero
	for _, c := range report.CategoryTotals {
		income = income.Add(money(c.Income))
		expense = expense.Add(money(c.Expense))
	}

	provider := report.Provider
	if report.Model != "" {
		provider = fmt.Sprintf("%s (%s)", report.Provider, report.Model)
	}

	values := [][]any{
		{"Budget Report", report.GeneratedAt.Format("2006-01-02 15:04")},
		{},
		{"Provider", provider},
		{"Transactions", len(report.Transactions)},
		{"Mappings", report.MappingsCount},
		{"Cached", report.Cached},
		{},
		{"Total income", cell(income)},
		{"Total expense", cell(expense)},
		{"Net", cell(income.Sub(expense))},
	}
	if len(report.SummaryPoints) > 0 {
		values = append(values, []any{}, []any{"Highlights"})
		for _, p := range report.SummaryPoints {
			values = append(values, []any{p})
		}
	}
	return Tab{Name: TabSummary, Values: values}
}

func categoriesTab(report *budget.Report) Tab {
	values := make([][]any, 0, len(report.CategoryTotals)+1)
	values = append(values, []any{"Category", "Income", "Expense", "Net"})
	for _, c := range report.CategoryTotals {
		in, out := money(c.Income), money(c.Expense)
		values = append(values, []any{c.Category, cell(in), cell(out), cell(in.Sub(out))})
	}
	return Tab{Name: TabCategories, Values: values, MoneyColumns: []int{1, 2, 3}}
}

func monthsTab(report *budget.Report) Tab {
	months := slices.Clone(report.MonthTotals)
	slices.SortFunc(months, func(a, b budget.PeriodTotal) int {
		return cmp.Compare(a.Period, b.Period)
	})

	values := make([][]any, 0, len(months)+1)
	values = append(values, []any{"Month", "Income", "Expense", "Net", "Running balance"})
	balance := decimal.Zero
	for _, m := range months {
		in, out := money(m.Income), money(m.Expense)
		net := in.Sub(out)
		balance = balance.Add(net)
		values = append(values, []any{m.Period, cell(in), cell(out), cell(net), cell(balance)})
	}
	return Tab{Name: TabMonths, Values: values, MoneyColumns: []int{1, 2, 3, 4}}
}

func transactionsTab(report *budget.Report) Tab {
	rows := slices.Clone(report.Transactions)
	slices.SortStableFunc(rows, func(a, b model.AnalysisTransaction) int {
		return cmp.Compare(b.BookingDate, a.BookingDate)
	})

	values := make([][]any, 0, len(rows)+1)
	values = append(values, []any{"Date", "Counterparty", "Amount", "Currency", "Category", "Flow", "Source", "Reason", "Memo"})
	for _, r := range rows {
		values = append(values, []any{
			r.BookingDate,
			r.CounterpartyName,
			cell(money(r.Amount)),
			r.Currency,
			r.Category,
			string(r.Flow),
			strings.ToUpper(string(r.Source)),
			r.Reason,
			r.RemittanceInformation,
		})
	}
	return Tab{Name: TabTransactions, Values: values, MoneyColumns: []int{2}}
}
