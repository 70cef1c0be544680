package budget

import (
	"strings"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
)

// Categories assigned by the deterministic fallback.
const (
	CategoryBankFees      = "Bank fees"
	CategorySalary        = "Salary"
	CategoryRefunds       = "Refunds"
	CategoryOtherIncome   = "Other income"
	CategoryCardExpenses  = "Card expenses (VISA/MASTERCARD)"
	CategoryOtherExpenses = "Other expenses"
)

var (
	feeMovementKeywords = []string{"aanrekeningbeheerskost", "beheerskost"}
	salaryKeywords      = []string{"werkgever", "werknemer", "loon", "salary", "payroll", "wedde"}
	refundKeywords      = []string{"refund", "terugbetaling"}
	cardKeywords        = []string{"visa", "mastercard", "maestro"}
	feeKeywords         = []string{"bankkost", "kosten", "fee", "servicekost"}
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// description is the lower-cased text mappings and rules look at.
func description(tx *model.BankTransaction) string {
	return strings.ToLower(tx.CounterpartyName + " " + tx.RemittanceInformation + " " + tx.MovementType)
}

// MatchMapping returns the mapping that categorizes tx. Flow-compatible
// mappings win over flow-incompatible ones; within a pass the longest
// normalized keyword wins and earlier mappings win ties.
func MatchMapping(tx *model.BankTransaction, mappings []model.CategoryMapping) (model.CategoryMapping, bool) {
	desc := description(tx)
	descNorm := fingerprint.NormalizeText(desc)
	flow := tx.Flow()

	var best, relaxed model.CategoryMapping
	bestLen, relaxedLen := 0, 0
	for _, m := range mappings {
		keyword := strings.ToLower(strings.TrimSpace(m.Keyword))
		category := strings.TrimSpace(m.Category)
		if !m.Active || keyword == "" || category == "" {
			continue
		}
		keywordNorm := fingerprint.NormalizeText(keyword)
		if !strings.Contains(desc, keyword) && (keywordNorm == "" || !strings.Contains(descNorm, keywordNorm)) {
			continue
		}
		length := len(keywordNorm)
		if length == 0 {
			length = len(keyword)
		}
		if m.Flow == "" || m.Flow.Accepts(flow) {
			if length > bestLen {
				best, bestLen = m, length
			}
		} else if length > relaxedLen {
			relaxed, relaxedLen = m, length
		}
	}
	switch {
	case bestLen > 0:
		return best, true
	case relaxedLen > 0:
		return relaxed, true
	default:
		return model.CategoryMapping{}, false
	}
}

// FallbackCategory classifies tx with fixed keyword rules. It never returns "".
func FallbackCategory(tx *model.BankTransaction) string {
	desc := description(tx)
	if tx.Flow() == model.FlowIncome {
		switch {
		case containsAny(desc, salaryKeywords):
			return CategorySalary
		case containsAny(desc, refundKeywords):
			return CategoryRefunds
		default:
			return CategoryOtherIncome
		}
	}

	switch {
	case containsAny(fingerprint.NormalizeText(tx.MovementType), feeMovementKeywords):
		return CategoryBankFees
	case containsAny(desc, cardKeywords):
		return CategoryCardExpenses
	case containsAny(desc, feeKeywords):
		return CategoryBankFees
	default:
		return CategoryOtherExpenses
	}
}
