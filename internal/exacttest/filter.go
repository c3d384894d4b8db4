package exacttest

import (
	"fmt"
	"strings"
)

// clause is a disjunction of equality terms; a $filter is a conjunction of
// clauses. Only the subset the client emits is understood:
//
//	Field eq literal
//	(Field eq a or Field eq b)
//	clause and clause
type clause []term

type term struct {
	field string
	value *string // nil means null
}

// parseFilter parses a decoded $filter expression.
func parseFilter(expr string) ([]clause, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var out []clause

	for _, part := range splitOutsideQuotes(expr, " and ") {
		part = strings.TrimSpace(part)

		if part == "false" {
			out = append(out, clause{})
			continue
		}

		part = strings.TrimSuffix(strings.TrimPrefix(part, "("), ")")

		var c clause

		for _, atom := range splitOutsideQuotes(part, " or ") {
			t, err := parseTerm(strings.TrimSpace(atom))
			if err != nil {
				return nil, err
			}

			c = append(c, t)
		}

		out = append(out, c)
	}

	return out, nil
}

func parseTerm(atom string) (term, error) {
	field, lit, ok := strings.Cut(atom, " eq ")
	if !ok {
		return term{}, fmt.Errorf("unsupported filter term %q", atom)
	}

	t := term{field: strings.TrimSpace(field)}
	lit = strings.TrimSpace(lit)

	switch {
	case lit == "null":
		return t, nil
	case strings.HasPrefix(lit, "guid'") && strings.HasSuffix(lit, "'"):
		v := strings.ToLower(lit[len("guid'") : len(lit)-1])
		t.value = &v
	case strings.HasPrefix(lit, "datetime'") && strings.HasSuffix(lit, "'"):
		v := lit[len("datetime'") : len(lit)-1]
		t.value = &v
	case len(lit) >= 2 && strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'"):
		v := strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
		t.value = &v
	default:
		t.value = &lit
	}

	return t, nil
}

func (t term) match(rec map[string]any) bool {
	v, ok := rec[t.field]
	if t.value == nil {
		return !ok || v == nil
	}

	if !ok || v == nil {
		return false
	}

	got := fmt.Sprint(v)
	if isGUIDLike(*t.value) {
		return strings.EqualFold(got, *t.value)
	}

	return got == *t.value
}

// isGUIDLike reports whether s has the 8-4-4-4-12 shape; GUIDs compare
// case-insensitively.
func isGUIDLike(s string) bool {
	return len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}

func matchAll(rec map[string]any, clauses []clause) bool {
	for _, c := range clauses {
		matched := false

		for _, t := range c {
			if t.match(rec) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

// splitOutsideQuotes splits s on sep, ignoring separators inside '…'.
func splitOutsideQuotes(s, sep string) []string {
	var (
		parts   []string
		inQuote bool
		start   int
	)

	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			inQuote = !inQuote
			continue
		}

		if !inQuote && strings.HasPrefix(s[i:], sep) {
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}

	return append(parts, s[start:])
}
