package importer

import (
	"strings"
	"time"

	"github.com/deknijf/documentstore/internal/fingerprint"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// CODA is the Belgian fixed-width statement format (128 columns per record).
// Only movement records are read: 21 starts a movement, 22 and 23 extend it.
// Globalisation details (detail number other than 0000) are skipped so a
// grouped payment is counted once.

const codaDateLayout = "020106"

func field(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return strings.TrimSpace(line[from:to])
}

func codaDate(s string) time.Time {
	t, err := time.Parse(codaDateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// looksLikeCODA reports whether the first record is a CODA header.
func looksLikeCODA(content []byte) bool {
	first, _, _ := strings.Cut(string(content), "\n")
	first = strings.TrimRight(first, "\r")
	return len(first) >= 100 && strings.HasPrefix(first, "00000")
}

// ParseCODA parses the movements of a CODA statement.
func ParseCODA(content []byte) []model.BankTransaction {
	text, err := charmap.ISO8859_1.NewDecoder().String(string(content))
	if err != nil {
		text = string(content)
	}

	currency := model.DefaultCurrency
	var out []model.BankTransaction
	var current *model.BankTransaction
	var comm []string

	flush := func() {
		if current == nil {
			return
		}
		current.RemittanceInformation = strings.Join(strings.Fields(strings.Join(comm, " ")), " ")
		out = append(out, *current)
		current, comm = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 2 {
			continue
		}
		switch line[:2] {
		case "12", "13":
			// Old balance; account structures 2 and 3 carry the currency after the IBAN.
			if c := field(line, 39, 42); len(c) == 3 {
				currency = c
			}
		case "21":
			if field(line, 6, 10) != "0000" {
				flush()
				continue
			}
			flush()
			digits, err := decimal.NewFromString(field(line, 32, 47))
			if err != nil {
				continue
			}
			amount := digits.Shift(-3)
			if field(line, 31, 32) == "1" {
				amount = amount.Neg()
			}
			current = &model.BankTransaction{
				ExternalTransactionID: field(line, 10, 31),
				Amount:                amount.InexactFloat64(),
				Currency:              currency,
				ValueDate:             codaDate(field(line, 47, 53)),
				BookingDate:           codaDate(field(line, 115, 121)),
				MovementType:          field(line, 53, 61),
			}
			if current.BookingDate.IsZero() {
				current.BookingDate = current.ValueDate
			}
			if field(line, 61, 62) == "1" {
				if ref := fingerprint.StructuredReference(field(line, 65, 77)); ref != "" {
					comm = append(comm, "+++"+ref+"+++")
				}
			} else {
				comm = append(comm, field(line, 62, 115))
			}
		case "22":
			if current != nil {
				comm = append(comm, field(line, 10, 63))
			}
		case "23":
			if current != nil {
				if account := strings.Fields(field(line, 10, 47)); len(account) > 0 {
					current.CounterpartyIBAN = account[0]
				}
				current.CounterpartyName = field(line, 47, 82)
				comm = append(comm, field(line, 82, 117))
			}
		default:
			flush()
		}
	}
	flush()
	return out
}
