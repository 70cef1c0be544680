package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
)

// RemarkPrefix marks remarks written by reconciliation.
const RemarkPrefix = "[BANK CHECK]"

func accuracyLabel(c model.Confidence) string {
	switch c {
	case model.ConfidenceHigh:
		return "Accuracy: high (95-100%)"
	case model.ConfidenceMedium:
		return "Accuracy: medium (80-94%)"
	case model.ConfidenceLow:
		return "Accuracy: indicative (65-79%)"
	default:
		return "Accuracy: unknown"
	}
}

// Remark renders the human readable note stored on a matched document.
func Remark(r Result) string {
	tx := r.Transaction
	sign := ""
	if tx.Amount < 0 {
		sign = "-"
	}
	amount := strings.Replace(fingerprint.FormatAmount(math.Abs(tx.Amount)), ".", ",", 1)

	counterparty := strings.TrimSpace(tx.CounterpartyName)
	if counterparty == "" {
		counterparty = "Unknown counterparty"
	}
	memo := strings.TrimSpace(tx.RemittanceInformation)
	if memo == "" {
		memo = "-"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s transaction %s | %s%s %s | counterparty: %s | memo: %s",
		RemarkPrefix, model.FormatDate(tx.BookingDate), sign, amount,
		tx.CurrencyOrDefault(), counterparty, memo)

	b.WriteString(" [")
	b.WriteString(accuracyLabel(r.Confidence))
	if reason := strings.TrimSpace(r.Reason); reason != "" {
		b.WriteString(" | ")
		b.WriteString(reason)
	}
	b.WriteString("]")

	if r.Confidence == model.ConfidenceLow {
		b.WriteString(" [NOTE: not a 100% match, but a good estimate.]")
	}
	return b.String()
}

// AppendRemark adds line to existing unless it is already present.
func AppendRemark(existing, line string) string {
	existing = strings.TrimSpace(existing)
	switch {
	case existing == "":
		return line
	case strings.Contains(existing, line):
		return existing
	default:
		return existing + "\n" + line
	}
}
