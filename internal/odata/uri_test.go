package odata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestURIBuilder_SegmentOrderIsFixed(t *testing.T) {
	b := &URIBuilder{
		BasePath: "crm/Accounts",
		OrderBy:  []string{"Code"},
		Select:   []string{"Code", "Name"},
		Filters:  []Filter{{Field: "Name", Value: "Acme"}},
	}

	want := "crm/Accounts?$orderby=Code&$select=Code,Name&$filter=Name eq 'Acme'"

	orders := [][]Segment{
		{SegmentOrder, SegmentSelect, SegmentFilters},
		{SegmentFilters, SegmentSelect, SegmentOrder},
		{SegmentSelect, SegmentFilters, SegmentOrder},
	}

	for _, segs := range orders {
		assert.Equal(t, want, b.Build(segs...))
	}
}

func TestURIBuilder_OmittedSegments(t *testing.T) {
	b := &URIBuilder{
		BasePath: "crm/Accounts",
		OrderBy:  []string{"Code"},
		Select:   []string{"Code"},
		Filters:  []Filter{{Field: "Name", Value: "Acme"}},
	}

	assert.Equal(t, "crm/Accounts", b.Build())
	assert.Equal(t, "crm/Accounts?$select=Code", b.Build(SegmentSelect))
	assert.Equal(t, "crm/Accounts?$orderby=Code&$select=Code", b.Build(SegmentOrder, SegmentSelect))

	empty := &URIBuilder{BasePath: "crm/Accounts"}
	assert.Equal(t, "crm/Accounts", empty.Build(SegmentOrder, SegmentSelect, SegmentFilters, SegmentID))
}

func TestURIBuilder_IDSegment(t *testing.T) {
	id := "c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d"
	b := &URIBuilder{BasePath: "crm/Accounts", ID: id}

	assert.Equal(t, "crm/Accounts?$filter=ID eq guid'"+id+"'", b.Build(SegmentID))
	assert.Equal(t, "crm/Accounts(guid'"+id+"')", b.IdentifiedPath())

	numeric := &URIBuilder{BasePath: "system/Divisions", IDField: "Code", ID: 42}
	assert.Equal(t, "system/Divisions?$filter=Code eq 42", numeric.Build(SegmentID))
	assert.Equal(t, "system/Divisions(42)", numeric.IdentifiedPath())
}

func TestFilter_Clause(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"string", Filter{"Name", "Acme"}, "Name eq 'Acme'"},
		{"quote escaped", Filter{"Name", "O'Brien"}, "Name eq 'O''Brien'"},
		{"int", Filter{"Status", 3}, "Status eq 3"},
		{"bool", Filter{"Blocked", false}, "Blocked eq false"},
		{"nil", Filter{"Email", nil}, "Email eq null"},
		{"json number", Filter{"Division", json.Number("123")}, "Division eq 123"},
		{"float", Filter{"Amount", 12.5}, "Amount eq 12.5"},
		{"guid", Filter{"Account", "c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d"},
			"Account eq guid'c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d'"},
		{"uuid type", Filter{"Account", uuid.MustParse("c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d")},
			"Account eq guid'c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d'"},
		{"hex without dashes is a string", Filter{"Code", "c1b3e0f29a4d4c1e8d2b0e5f6a7b8c9d"},
			"Code eq 'c1b3e0f29a4d4c1e8d2b0e5f6a7b8c9d'"},
		{"datetime", Filter{"Modified", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)},
			"Modified eq datetime'2024-03-01T12:30:00'"},
		{"inclusion", Filter{"Code", []string{"A", "B"}}, "(Code eq 'A' or Code eq 'B')"},
		{"inclusion single", Filter{"Code", []any{"A"}}, "Code eq 'A'"},
		{"inclusion ints", Filter{"Status", []int{1, 2}}, "(Status eq 1 or Status eq 2)"},
		{"inclusion empty", Filter{"Code", []string{}}, "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Clause())
		})
	}
}

func TestURIBuilder_MultipleFiltersJoined(t *testing.T) {
	b := &URIBuilder{
		BasePath: "crm/Contacts",
		ID:       7,
		Filters: []Filter{
			{Field: "FirstName", Value: "Ada"},
			{Field: "LastName", Value: "Lovelace"},
		},
	}

	assert.Equal(t,
		"crm/Contacts?$filter=ID eq 7 and FirstName eq 'Ada' and LastName eq 'Lovelace'",
		b.Build(SegmentFilters, SegmentID))
}

func TestURIBuilder_OutputIsDecoded(t *testing.T) {
	b := &URIBuilder{BasePath: "crm/Accounts", Filters: []Filter{{Field: "Name", Value: "50%25 off"}}}

	assert.Equal(t, "crm/Accounts?$filter=Name eq '50% off'", b.Build(SegmentFilters))
}

func TestEncodeURI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "crm/Accounts", "crm/Accounts"},
		{"select", "crm/Accounts?$select=Code,Name", "crm/Accounts?$select=Code%2CName"},
		{"filter spaces", "crm/Accounts?$filter=Name eq 'A B'", "crm/Accounts?$filter=Name%20eq%20%27A%20B%27"},
		{"ampersand in literal", "crm/Accounts?$filter=Name eq 'A&B'&$select=ID",
			"crm/Accounts?$filter=Name%20eq%20%27A%26B%27&$select=ID"},
		{"plus kept", "crm/Accounts?$filter=Phone eq '+31'", "crm/Accounts?$filter=Phone%20eq%20%27%2B31%27"},
		{"absolute next link", "https://start.exactonline.nl/api/v1/1/crm/Accounts?$skiptoken=guid'x'",
			"https://start.exactonline.nl/api/v1/1/crm/Accounts?$skiptoken=guid%27x%27"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeURI(tt.in)
			assert.Equal(t, tt.want, got)

			// Decode/re-encode is idempotent.
			assert.Equal(t, got, EncodeURI(NormalizeURI(got)))
			assert.Equal(t, got, EncodeURI(got))
			assert.Equal(t, NormalizeURI(tt.in), NormalizeURI(got))
		})
	}
}

func TestNormalizeURI_InvalidEscapeUnchanged(t *testing.T) {
	assert.Equal(t, "crm/Accounts?$filter=Name eq '100%'", NormalizeURI("crm/Accounts?$filter=Name eq '100%'"))
}
