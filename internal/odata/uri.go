package odata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Query option names.
const (
	paramOrderBy = "$orderby"
	paramSelect  = "$select"
	paramFilter  = "$filter"
)

// DefaultIDField is the wire name of the key property.
const DefaultIDField = "ID"

// datetimeLayout is the OData v2 datetime literal layout.
const datetimeLayout = "2006-01-02T15:04:05"

// Segment selects one part of a query URI.
type Segment int

const (
	SegmentID Segment = iota
	SegmentOrder
	SegmentSelect
	SegmentFilters
)

// Filter is one equality (scalar value) or inclusion (slice value) clause.
type Filter struct {
	Field string
	Value any
}

// URIBuilder composes a base path with order, select, and filter query
// options. Field names are wire names.
type URIBuilder struct {
	BasePath string
	IDField  string // DefaultIDField when empty
	ID       any
	OrderBy  []string
	Select   []string
	Filters  []Filter
}

// Build renders the base path plus the requested segments. Segments are
// always emitted as order-by, select, filters, whatever order they are
// requested in. The result is percent-decoded; use EncodeURI before sending.
func (b *URIBuilder) Build(segments ...Segment) string {
	want := make(map[Segment]bool, len(segments))
	for _, s := range segments {
		want[s] = true
	}

	var params []string

	if want[SegmentOrder] && len(b.OrderBy) > 0 {
		params = append(params, paramOrderBy+"="+strings.Join(b.OrderBy, ","))
	}

	if want[SegmentSelect] && len(b.Select) > 0 {
		params = append(params, paramSelect+"="+strings.Join(b.Select, ","))
	}

	var clauses []string

	if want[SegmentID] && b.ID != nil {
		clauses = append(clauses, b.idField()+" eq "+Literal(b.ID))
	}

	if want[SegmentFilters] {
		for _, f := range b.Filters {
			clauses = append(clauses, f.Clause())
		}
	}

	if len(clauses) > 0 {
		params = append(params, paramFilter+"="+strings.Join(clauses, " and "))
	}

	uri := b.BasePath
	if len(params) > 0 {
		uri += "?" + strings.Join(params, "&")
	}

	return NormalizeURI(uri)
}

// IdentifiedPath returns the key-predicate form of the base path, e.g.
// crm/Accounts(guid'…').
func (b *URIBuilder) IdentifiedPath() string {
	return b.BasePath + "(" + Literal(b.ID) + ")"
}

func (b *URIBuilder) idField() string {
	if b.IDField == "" {
		return DefaultIDField
	}

	return b.IDField
}

// Clause renders the filter as an OData boolean expression.
func (f Filter) Clause() string {
	values, isList := listValues(f.Value)
	if !isList {
		return f.Field + " eq " + Literal(f.Value)
	}

	if len(values) == 0 {
		// An empty inclusion set matches nothing.
		return "false"
	}

	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, f.Field+" eq "+Literal(v))
	}

	if len(parts) == 1 {
		return parts[0]
	}

	return "(" + strings.Join(parts, " or ") + ")"
}

func listValues(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}

		return out, true
	case []int:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}

		return out, true
	default:
		return nil, false
	}
}

// Literal renders a Go value as an OData v2 literal.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if isGUID(x) {
			return "guid'" + x + "'"
		}

		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case uuid.UUID:
		return "guid'" + x.String() + "'"
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case time.Time:
		return "datetime'" + x.UTC().Format(datetimeLayout) + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}

// isGUID accepts only the canonical 8-4-4-4-12 form.
func isGUID(s string) bool {
	const canonicalLen = 36
	if len(s) != canonicalLen {
		return false
	}

	_, err := uuid.Parse(s)

	return err == nil
}

// NormalizeURI percent-decodes uri. Undecodable input is returned unchanged.
func NormalizeURI(uri string) string {
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		return uri
	}

	return decoded
}

// EncodeURI percent-encodes the query option values of uri. The input is
// normalized first, so encoding an already encoded URI is a no-op.
func EncodeURI(uri string) string {
	uri = NormalizeURI(uri)

	path, query, found := strings.Cut(uri, "?")
	if !found || query == "" {
		return uri
	}

	params := splitParams(query)
	encoded := make([]string, 0, len(params))

	for _, p := range params {
		key, value, hasValue := strings.Cut(p, "=")
		if !hasValue {
			encoded = append(encoded, escapeQuery(key))
			continue
		}

		encoded = append(encoded, escapeQuery(key)+"="+escapeQuery(value))
	}

	return path + "?" + strings.Join(encoded, "&")
}

// splitParams splits a decoded query on '&' outside single-quoted literals,
// so an ampersand inside a filter string stays part of its value.
func splitParams(query string) []string {
	var (
		params  []string
		start   int
		inQuote bool
	)

	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '\'':
			inQuote = !inQuote
		case '&':
			if !inQuote {
				params = append(params, query[start:i])
				start = i + 1
			}
		}
	}

	return append(params, query[start:])
}

func escapeQuery(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	// OData system query options keep their literal '$' prefix.
	return strings.ReplaceAll(escaped, "%24", "$")
}
