package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Header aliases seen in Belgian and Dutch bank exports, plus English ones.
var (
	bookingDateAliases = []string{"booking_date", "bookdate", "date", "boekingsdatum", "boekdatum", "datum", "transactiedatum", "uitvoeringsdatum"}
	valueDateAliases   = []string{"value_date", "valutadatum", "valuedate", "valuta_datum"}
	amountAliases      = []string{"amount", "bedrag", "waarde", "amount_eur", "bedrag_eur", "transactiebedrag", "boekingsbedrag"}
	signAliases        = []string{"debitcredit", "dc", "richting", "sign", "teken"}
	debitAliases       = []string{"debit", "debet", "debetbedrag", "uit", "af", "uitgave", "uitgaven"}
	creditAliases      = []string{"credit", "krediet", "kredietbedrag", "in", "bij", "inkomst", "inkomsten"}
	currencyAliases    = []string{"currency", "valuta", "munt"}
	counterpartyAlias  = []string{"counterparty_name", "counterparty", "tegenpartij_naam", "tegenpartij naam", "tegenpartij", "begunstigde_naam", "begunstigde naam", "begunstigde", "naam"}
	counterpartyIBAN   = []string{"tegenrekening", "counterparty_account", "counterparty_iban", "iban", "rekeningnummer", "rekening"}
	remittanceAliases  = []string{"description", "mededeling", "omschrijving", "remittance", "remittance_information", "referentie"}
	transactionIDAlias = []string{"transaction_id", "id", "entry_reference", "referentie_id", "boekingid", "vdk-refertenummer", "vdk_refertenummer"}

	headerHints   = []string{"datum", "date", "boekingsdatum", "omschrijving", "mededeling", "bedrag", "amount", "debet", "credit", "krediet"}
	bankHeaders   = []string{"Uitvoeringsdatum", "Valutadatum", "VDK-refertenummer", "Tegenpartij naam", "Mededeling", "Bedrag"}
	debitSignals  = map[string]bool{"d": true, "debit": true, "debet": true, "af": true}
	creditSignals = map[string]bool{"c": true, "credit": true, "bij": true, "in": true}
)

// minContainsAlias is the shortest alias allowed to match a header by substring.
// Shorter ones ("in", "af", "id") hit unrelated columns such as "mededeling".
const minContainsAlias = 4

// normalizeKey folds a header or alias to lower-case ASCII letters and digits.
func normalizeKey(s string) string {
	stripAccents := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripAccents, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		folded = strings.ToLower(strings.TrimSpace(s))
	}
	var b strings.Builder
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type csvRow struct {
	values map[string]string
	fields map[string]string
	keys   []string
}

func newCSVRow(header, record []string) csvRow {
	row := csvRow{values: make(map[string]string, len(header)), fields: make(map[string]string, len(header))}
	for i, h := range header {
		v := ""
		if i < len(record) {
			v = strings.TrimSpace(record[i])
		}
		row.fields[strings.TrimSpace(h)] = v
		k := normalizeKey(h)
		if k == "" {
			continue
		}
		if _, seen := row.values[k]; !seen {
			row.keys = append(row.keys, k)
		}
		if row.values[k] == "" {
			row.values[k] = v
		}
	}
	return row
}

// lookup returns the first non-empty value whose header equals one of the
// aliases, then falls back to substring matches when contains is set.
func (r csvRow) lookup(aliases []string, contains bool) string {
	wanted := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if k := normalizeKey(a); k != "" {
			wanted = append(wanted, k)
		}
	}
	for _, a := range wanted {
		if v := r.values[a]; v != "" {
			return v
		}
	}
	if !contains {
		return ""
	}
	for _, a := range wanted {
		for _, key := range r.keys {
			v := r.values[key]
			if v == "" {
				continue
			}
			if (len(a) >= minContainsAlias && strings.Contains(key, a)) ||
				(len(key) >= minContainsAlias && strings.Contains(a, key)) {
				return v
			}
		}
	}
	return ""
}

// parseAmount reads European and English formatted amounts: "1.234,56",
// "-12,50", "€ 10", "12.50-".
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.NewReplacer(" ", "", "\u00a0", "", "EUR", "", "€", "").Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, false
	}
	if strings.HasSuffix(s, "-") {
		s = "-" + strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (r csvRow) amount() (decimal.Decimal, bool) {
	if direct, ok := parseAmount(r.lookup(amountAliases, true)); ok {
		sign := normalizeKey(r.lookup(signAliases, true))
		switch {
		case debitSignals[sign]:
			return direct.Abs().Neg(), true
		case creditSignals[sign]:
			return direct.Abs(), true
		}
		return direct, true
	}

	credit, hasCredit := parseAmount(r.lookup(creditAliases, true))
	if hasCredit && !credit.IsZero() {
		return credit.Abs(), true
	}
	debit, hasDebit := parseAmount(r.lookup(debitAliases, true))
	if hasDebit && !debit.IsZero() {
		return debit.Abs().Neg(), true
	}
	return decimal.Zero, false
}

// decodeText returns content as UTF-8, treating invalid input as Windows-1252.
func decodeText(content []byte) string {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "")
	}
	return string(decoded)
}

func guessDelimiter(text string) rune {
	sample := text
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	best, bestCount := ';', 0
	for _, d := range []rune{';', ',', '\t'} {
		if n := strings.Count(sample, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func splitLine(line string, delimiter rune) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	if record, err := r.Read(); err == nil {
		return record
	}
	parts := strings.Split(line, string(delimiter))
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func likelyHeader(line string) bool {
	n := normalizeKey(line)
	if n == "" {
		return false
	}
	hits := 0
	for _, h := range headerHints {
		if strings.Contains(n, h) {
			hits++
		}
	}
	return hits >= 2
}

// findHeader locates the header line below any account preamble.
func findHeader(lines []string, delimiter rune) int {
	known := make(map[string]bool, len(bankHeaders))
	for _, h := range bankHeaders {
		known[normalizeKey(h)] = true
	}
	for i, line := range lines {
		if i >= 120 {
			break
		}
		parts := splitLine(line, delimiter)
		if len(parts) < 4 {
			continue
		}
		hits := 0
		seen := make(map[string]bool)
		for _, p := range parts {
			k := normalizeKey(strings.Trim(strings.TrimSpace(p), `"`))
			if k != "" && known[k] && !seen[k] {
				seen[k] = true
				hits++
			}
		}
		if hits >= 3 || likelyHeader(line) {
			return i
		}
	}
	return 0
}

// preambleMetadata keeps "key;value" lines above the header, such as the
// account holder and IBAN some banks print first.
func preambleMetadata(lines []string, delimiter rune) map[string]string {
	meta := make(map[string]string)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var parts []string
		for _, p := range splitLine(line, delimiter) {
			if p = strings.Trim(strings.TrimSpace(p), `"`); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 2 {
			continue
		}
		key, value := parts[0], strings.Join(parts[1:], " | ")
		if prev, ok := meta[key]; ok {
			value = prev + " | " + value
		}
		meta[key] = value
	}
	return meta
}

type csvRaw struct {
	Metadata map[string]string `json:"csv_metadata,omitempty"`
	Fields   map[string]string `json:"csv_fields,omitempty"`
	Source   string            `json:"source_filename,omitempty"`
}

// ParseCSV parses a bank CSV export. Rows without an amount are dropped.
// When the header based parse yields nothing usable, every line is scanned
// for a date, an amount and free text instead.
func ParseCSV(fileName string, content []byte) []model.BankTransaction {
	text := decodeText(content)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	delimiter := guessDelimiter(text)
	headerIdx := findHeader(lines, delimiter)
	meta := preambleMetadata(lines[:headerIdx], delimiter)

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[headerIdx:], "\n")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var header []string
	var out []model.BankTransaction
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if header == nil {
			header = record
			continue
		}
		row := newCSVRow(header, record)
		tx, ok := row.transaction()
		if !ok {
			continue
		}
		raw, _ := json.Marshal(csvRaw{Metadata: meta, Fields: row.fields, Source: strings.TrimSpace(fileName)})
		tx.RawJSON = string(raw)
		out = append(out, tx)
	}

	if usable(out) {
		return out
	}
	if fallback := parseLines(lines, delimiter); len(fallback) > 0 {
		return fallback
	}
	return out
}

func (r csvRow) transaction() (model.BankTransaction, bool) {
	amount, ok := r.amount()
	if !ok {
		return model.BankTransaction{}, false
	}
	tx := model.BankTransaction{
		ExternalTransactionID: r.lookup(transactionIDAlias, true),
		Amount:                amount.InexactFloat64(),
		Currency:              strings.ToUpper(r.lookup(currencyAliases, false)),
		CounterpartyName:      r.lookup(counterpartyAlias, true),
		CounterpartyIBAN:      r.lookup(counterpartyIBAN, true),
		RemittanceInformation: r.lookup(remittanceAliases, true),
	}
	tx.BookingDate, _ = model.ParseDate(r.lookup(bookingDateAliases, true))
	tx.ValueDate, _ = model.ParseDate(r.lookup(valueDateAliases, true))
	if tx.CounterpartyName == "" {
		tx.CounterpartyName = tx.CounterpartyIBAN
	}
	return tx, true
}

func usable(txs []model.BankTransaction) bool {
	for i := range txs {
		tx := &txs[i]
		if !tx.BookingDate.IsZero() || tx.CounterpartyName != "" || tx.RemittanceInformation != "" {
			return true
		}
	}
	return false
}

// parseLines is the header-less fallback: the first date is the booking date,
// the last number the amount, the first text the counterparty.
func parseLines(lines []string, delimiter rune) []model.BankTransaction {
	var out []model.BankTransaction
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || likelyHeader(line) {
			continue
		}
		parts := strings.Split(line, string(delimiter))
		if len(parts) < 2 {
			continue
		}

		var tx model.BankTransaction
		var texts []string
		hasAmount := false
		for _, p := range parts {
			p = strings.Trim(strings.TrimSpace(p), `"`)
			if p == "" {
				continue
			}
			if tx.BookingDate.IsZero() {
				if d, ok := model.ParseDate(p); ok {
					tx.BookingDate = d
					continue
				}
			}
			if a, ok := parseAmount(p); ok {
				tx.Amount = a.InexactFloat64()
				hasAmount = true
				continue
			}
			texts = append(texts, p)
		}
		if !hasAmount {
			continue
		}
		if len(texts) > 0 {
			tx.CounterpartyName = texts[0]
			tx.RemittanceInformation = texts[0]
		}
		if len(texts) > 1 {
			tx.RemittanceInformation = strings.Join(texts[1:], " | ")
		}
		out = append(out, tx)
	}
	return out
}
