package importer

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
)

// unknownCurrency is what an unset ISO 4217 unit renders as.
const unknownCurrency = "XXX"

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagRe  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// looksLikeOFX reports whether content is an OFX/QFX document.
func looksLikeOFX(content []byte) bool {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	upper := bytes.ToUpper(head)
	return bytes.Contains(upper, []byte("OFXHEADER")) || bytes.Contains(upper, []byte("<OFX>"))
}

// preprocessOFX fixes formatting issues that trip up the OFX parser.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	// SGML files sometimes drop the closing bracket of a lone opening tag.
	return openTagRe.ReplaceAllString(content, "$1>")
}

// ParseOFX parses bank and credit card statements from an OFX/QFX file.
// Amounts keep their OFX sign: debits are negative.
func ParseOFX(content []byte, logger *slog.Logger) ([]model.BankTransaction, error) {
	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var txs []model.BankTransaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			if stmt.BankTranList == nil {
				continue
			}
			for _, t := range stmt.BankTranList.Transactions {
				txs = append(txs, convertOFX(t, stmt.CurDef.String()))
			}
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			if stmt.BankTranList == nil {
				continue
			}
			for _, t := range stmt.BankTranList.Transactions {
				txs = append(txs, convertOFX(t, stmt.CurDef.String()))
			}
		}
	}

	logger.Debug("Parsed OFX file",
		"transactions", len(txs),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)
	return txs, nil
}

func convertOFX(t ofxgo.Transaction, currency string) model.BankTransaction {
	amount, _ := t.TrnAmt.Float64()

	tx := model.BankTransaction{
		ExternalTransactionID: strings.TrimSpace(string(t.FiTID)),
		BookingDate:           t.DtPosted.Time,
		Amount:                decimal.NewFromFloat(amount).Round(2).InexactFloat64(),
		Currency:              strings.ToUpper(strings.TrimSpace(currency)),
		CounterpartyName:      payeeName(t),
		RemittanceInformation: strings.TrimSpace(string(t.Memo)),
		MovementType:          fmt.Sprintf("%v", t.TrnType),
	}
	if t.DtAvail != nil {
		tx.ValueDate = t.DtAvail.Time
	}
	if t.Currency != nil {
		tx.Currency = t.Currency.CurSym.String()
	}
	if tx.Currency == unknownCurrency {
		tx.Currency = ""
	}
	if t.CheckNum != "" && tx.RemittanceInformation == "" {
		tx.RemittanceInformation = "check " + string(t.CheckNum)
	}
	if tx.RemittanceInformation == "" {
		tx.RemittanceInformation = strings.TrimSpace(string(t.Name))
	}
	return tx
}

var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// payeeName picks the cleanest counterparty name the statement offers.
func payeeName(t ofxgo.Transaction) string {
	if t.Payee != nil && t.Payee.Name != "" {
		return strings.TrimSpace(string(t.Payee.Name))
	}

	name := strings.TrimSpace(string(t.Name))
	if t.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(t.Memo))
	}
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}
	// Drop a leading "MM/DD " date.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}
