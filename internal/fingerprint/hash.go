// Package fingerprint computes the content and structural hashes used to
// detect duplicate documents and re-imported bank transactions.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/deknijf/documentstore/internal/model"
	"github.com/shopspring/decimal"
)

// ContentHash returns the hex SHA-256 of raw document bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// TextHash hashes extracted document text after lower-casing and collapsing
// whitespace, so rescans with different bytes but identical text collide.
// Empty text has no hash.
func TextHash(text string) string {
	normalized := CollapseSpace(text)
	if normalized == "" {
		return ""
	}
	return ContentHash([]byte(normalized))
}

// HashJSON returns the hex SHA-256 of the canonical JSON encoding of v:
// object keys sorted, no insignificant whitespace, no HTML escaping.
func HashJSON(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return ContentHash(b), nil
}

// CanonicalJSON encodes v deterministically.
func CanonicalJSON(v any) ([]byte, error) {
	// Round-trip through a generic value so struct fields are key-sorted too.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode canonical value: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// Transaction computes the structural dedupe hash of a bank transaction.
// It ignores provider ids so the same movement is recognized across CSV
// re-imports and sync calls.
func Transaction(tx *model.BankTransaction) string {
	payload := map[string]string{
		"booking_date":           model.FormatDate(tx.BookingDate),
		"value_date":             model.FormatDate(tx.ValueDate),
		"amount":                 FormatAmount(tx.Amount),
		"currency":               tx.CurrencyOrDefault(),
		"counterparty_name":      NormalizeText(tx.CounterpartyName),
		"remittance_information": NormalizeText(tx.RemittanceInformation),
	}
	// A map of strings always marshals.
	b, _ := CanonicalJSON(payload)
	return ContentHash(b)
}
