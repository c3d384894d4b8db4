package resource

import (
	"maps"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// wireAcronyms are name parts the API spells in upper case (VATNumber,
// GLAccount, InvoiceID).
var wireAcronyms = map[string]string{
	"id":   "ID",
	"gl":   "GL",
	"vat":  "VAT",
	"iban": "IBAN",
	"bic":  "BIC",
	"dc":   "DC",
	"fc":   "FC",
}

// Attributes maps canonical snake_case attribute names to values.
type Attributes map[string]any

// NormalizeAttributes copies m with every key in canonical form. If two keys
// normalize to the same name, which value survives is unspecified.
func NormalizeAttributes(m map[string]any) Attributes {
	attrs := make(Attributes, len(m))
	for k, v := range m {
		attrs[NormalizeKey(k)] = v
	}

	return attrs
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}

	return maps.Clone(a)
}

// NormalizeKey converts an attribute name in any common spelling
// (AccountName, accountName, account-name, "Account Name") to snake_case.
// Runs of capitals are kept together: VATNumber -> vat_number.
func NormalizeKey(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)

	var b strings.Builder

	b.Grow(len(name) + 4)

	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			writeSep(&b)
		case unicode.IsUpper(r):
			if i > 0 && needsBreak(runes, i) {
				writeSep(&b)
			}

			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// needsBreak reports whether an upper-case rune at i starts a new word.
func needsBreak(runes []rune, i int) bool {
	prev := runes[i-1]
	if prev == '_' || prev == '-' || prev == ' ' || prev == '.' {
		return false
	}

	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}

	// End of an acronym run: "VATNumber" breaks before the N.
	return i+1 < len(runes) && unicode.IsLower(runes[i+1])
}

func writeSep(b *strings.Builder) {
	s := b.String()
	if s == "" || strings.HasSuffix(s, "_") {
		return
	}

	b.WriteByte('_')
}

// WireName converts a canonical attribute name to the PascalCase field name
// used on the wire: account_name -> AccountName, invoice_id -> InvoiceID,
// amount_dc -> AmountDC.
func WireName(key string) string {
	// A Caser is stateful; one per call keeps WireName safe for concurrent use.
	title := cases.Title(language.Und)

	parts := strings.Split(key, "_")

	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}

		if acr, ok := wireAcronyms[part]; ok {
			b.WriteString(acr)
			continue
		}

		b.WriteString(title.String(part))
	}

	return b.String()
}

// WireNames maps WireName over keys.
func WireNames(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, WireName(NormalizeKey(k)))
	}

	return out
}

// ToWire converts attribute names to wire field names.
func (a Attributes) ToWire() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[WireName(k)] = v
	}

	return out
}
