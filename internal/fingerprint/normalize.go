package fingerprint

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9]`)
	nonAlnumCaseRe = regexp.MustCompile(`[^A-Za-z0-9]`)
	nonDigitRe     = regexp.MustCompile(`[^0-9]`)
	structuredRe   = regexp.MustCompile(`(\d{3})/(\d{4})/(\d{5})`)
)

// CollapseSpace lower-cases s and collapses runs of whitespace into one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

// NormalizeText lower-cases s and keeps only [a-z0-9].
func NormalizeText(s string) string {
	return nonAlnumRe.ReplaceAllString(CollapseSpace(s), "")
}

// NormalizeIBAN upper-cases an IBAN and drops spaces and punctuation.
func NormalizeIBAN(s string) string {
	return strings.ToUpper(nonAlnumCaseRe.ReplaceAllString(s, ""))
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// StructuredReference normalizes a Belgian structured payment reference to
// ###/####/#####. Delimiters such as +++ or *** are ignored. It returns ""
// when s does not hold a structured reference.
func StructuredReference(s string) string {
	cleaned := strings.NewReplacer("+", "", "*", "", " ", "").Replace(strings.TrimSpace(s))
	if m := structuredRe.FindStringSubmatch(cleaned); m != nil {
		return m[1] + "/" + m[2] + "/" + m[3]
	}
	digits := Digits(cleaned)
	if len(digits) == 12 && len(digits) == len(strings.ReplaceAll(cleaned, "/", "")) {
		return digits[:3] + "/" + digits[3:7] + "/" + digits[7:]
	}
	return ""
}
