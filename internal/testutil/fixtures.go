package testutil

import (
	"time"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
)

// DefaultAccount is the bank account fixtures are booked on.
const DefaultAccount = "acct-test"

// Date parses YYYY-MM-DD and panics on malformed input.
func Date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Amount returns a pointer to v for Document.TotalAmount.
func Amount(v float64) *float64 {
	return &v
}

// Transaction builds a EUR transaction on DefaultAccount with its dedupe hash set.
func Transaction(extID, bookingDate string, amount float64, counterparty, remittance string) model.BankTransaction {
	tx := model.BankTransaction{
		BankAccountID:         DefaultAccount,
		ExternalTransactionID: extID,
		BookingDate:           Date(bookingDate),
		Amount:                amount,
		Currency:              "EUR",
		CounterpartyName:      counterparty,
		RemittanceInformation: remittance,
	}
	tx.DedupeHash = fingerprint.Transaction(&tx)
	return tx
}

// Mapping builds an active keyword mapping.
func Mapping(keyword, category string, flow model.Flow) model.CategoryMapping {
	return model.CategoryMapping{
		Keyword:         keyword,
		Category:        category,
		Flow:            flow,
		Active:          true,
		VisibleInBudget: true,
	}
}
