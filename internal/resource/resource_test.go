package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/exact-go/internal/odata"
)

const accountID = "c1b3e0f2-9a4d-4c1e-8d2b-0e5f6a7b8c9d"

type call struct {
	method string
	uri    string
	body   map[string]any
}

// fakeTransport replays queued replies and records every request.
type fakeTransport struct {
	calls   []call
	replies []odata.RawResponse
	err     error
}

func (f *fakeTransport) Do(_ context.Context, method, uri string, body map[string]any) (odata.RawResponse, error) {
	f.calls = append(f.calls, call{method: method, uri: uri, body: body})

	if f.err != nil {
		return nil, f.err
	}

	if len(f.replies) == 0 {
		return &odata.StaticResponse{Status: http.StatusOK, OK: true, Content: []byte(`{"d":{"results":[]}}`)}, nil
	}

	next := f.replies[0]
	f.replies = f.replies[1:]

	return next, nil
}

func reply(status int, body string) *odata.StaticResponse {
	return &odata.StaticResponse{
		Status:  status,
		Content: []byte(body),
		OK:      status >= 200 && status < 300,
	}
}

func accounts(t *testing.T) *Definition {
	t.Helper()

	def, ok := Lookup("accounts")
	require.True(t, ok)

	return def
}

func TestFindAll_EnvelopeAndNextPage(t *testing.T) {
	ft := &fakeTransport{replies: []odata.RawResponse{
		reply(http.StatusOK, `{"d":{"results":[{"id":1,"name":"A"}],"__next":"https://x/next"}}`),
	}}

	r := New(accounts(t), ft, nil)

	rs, err := r.FindAll(context.Background(), FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, odata.Record{"id": json.Number("1"), "name": "A"}, rs.Records[0])
	assert.Equal(t, "https://x/next", rs.NextPageURL)

	require.NotNil(t, r.LastResponse())
	next, ok := r.LastResponse().NextPageURL()
	assert.True(t, ok)
	assert.Equal(t, "https://x/next", next)
}

func TestFindAll_QueryOrderAndFiltersIgnored(t *testing.T) {
	ft := &fakeTransport{}
	r := New(accounts(t), ft, map[string]any{"Name": "Acme"})

	_, err := r.FindAll(context.Background(), FindOptions{
		Select:  []string{"code", "name"},
		Filters: []string{"name"},
		OrderBy: []string{"code"},
	})
	require.NoError(t, err)

	require.Len(t, ft.calls, 1)
	assert.Equal(t, http.MethodGet, ft.calls[0].method)
	assert.Equal(t, "crm/Accounts?$orderby=Code&$select=Code,Name", ft.calls[0].uri)
	assert.Nil(t, ft.calls[0].body)
}

func TestFindBy_FiltersFromAttributes(t *testing.T) {
	ft := &fakeTransport{}
	r := New(accounts(t), ft, map[string]any{"name": "O'Brien", "city": []string{"Delft", "Leiden"}})

	_, err := r.FindBy(context.Background(), FindOptions{
		Filters: []string{"Name", "City"},
		Select:  []string{"ID"},
		OrderBy: []string{"name"},
	})
	require.NoError(t, err)

	require.Len(t, ft.calls, 1)
	assert.Equal(t,
		"crm/Accounts?$orderby=Name&$select=ID&$filter=Name eq 'O''Brien' and (City eq 'Delft' or City eq 'Leiden')",
		ft.calls[0].uri)
}

func TestFind(t *testing.T) {
	t.Run("unidentified makes no request", func(t *testing.T) {
		ft := &fakeTransport{}
		r := New(accounts(t), ft, map[string]any{"name": "Acme"})

		rec, err := r.Find(context.Background())
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Empty(t, ft.calls)
	})

	t.Run("identified uses the id filter", func(t *testing.T) {
		ft := &fakeTransport{replies: []odata.RawResponse{
			reply(http.StatusOK, `{"d":{"results":[{"ID":"`+accountID+`","Name":"Acme"}]}}`),
		}}
		r := New(accounts(t), ft, map[string]any{"ID": accountID})

		rec, err := r.Find(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Acme", rec["Name"])

		require.Len(t, ft.calls, 1)
		assert.Equal(t, "crm/Accounts?$filter=ID eq guid'"+accountID+"'", ft.calls[0].uri)
	})

	t.Run("empty result is nil", func(t *testing.T) {
		ft := &fakeTransport{}
		r := New(accounts(t), ft, map[string]any{"id": accountID})

		rec, err := r.Find(context.Background())
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("custom key attribute", func(t *testing.T) {
		def, ok := Lookup("sales_invoices")
		require.True(t, ok)

		ft := &fakeTransport{}
		r := New(def, ft, map[string]any{"InvoiceID": accountID})

		_, err := r.Find(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "salesinvoice/SalesInvoices?$filter=InvoiceID eq guid'"+accountID+"'", ft.calls[0].uri)
	})
}

func TestSave_InvalidMakesNoRequest(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ft := &fakeTransport{}

	r := New(accounts(t), ft, map[string]any{"code": "A1"}, WithLogger(logger))

	resp, err := r.Save(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, "Invalid Request", string(resp.Body()))
	assert.True(t, resp.Failed())
	assert.Same(t, resp, r.LastResponse())
	assert.Empty(t, ft.calls)

	assert.Contains(t, buf.String(), "invalid resource")
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "name")
}

func TestSave_PostAdoptsServerID(t *testing.T) {
	ft := &fakeTransport{replies: []odata.RawResponse{
		reply(http.StatusCreated, `{"d":{"ID":"`+accountID+`","Name":"Acme"}}`),
	}}

	r := New(accounts(t), ft, map[string]any{"Name": "Acme", "VATNumber": "NL1", "Created": "2024-01-01"})

	resp, err := r.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success())

	require.Len(t, ft.calls, 1)
	assert.Equal(t, http.MethodPost, ft.calls[0].method)
	assert.Equal(t, "crm/Accounts", ft.calls[0].uri)
	assert.Equal(t, map[string]any{"Name": "Acme", "VATNumber": "NL1"}, ft.calls[0].body)

	assert.True(t, r.Identified())
	assert.Equal(t, accountID, r.ID())
}

func TestSave_PutWhenIdentified(t *testing.T) {
	ft := &fakeTransport{replies: []odata.RawResponse{reply(http.StatusNoContent, "")}}

	r := New(accounts(t), ft, map[string]any{"id": accountID, "name": "Acme", "bogus": 1})

	resp, err := r.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success())

	require.Len(t, ft.calls, 1)
	assert.Equal(t, http.MethodPut, ft.calls[0].method)
	assert.Equal(t, "crm/Accounts(guid'"+accountID+"')", ft.calls[0].uri)
	assert.Equal(t, map[string]any{"Name": "Acme"}, ft.calls[0].body)
}

func TestSave_ClassifiedFailurePropagates(t *testing.T) {
	ft := &fakeTransport{replies: []odata.RawResponse{
		reply(http.StatusBadRequest, `{"error":{"message":{"value":"Name is required"}}}`),
	}}

	r := New(accounts(t), ft, map[string]any{"name": ""})

	resp, err := r.Save(context.Background())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Nil(t, r.LastResponse())

	var badReq *odata.BadRequestError
	require.ErrorAs(t, err, &badReq)
	assert.Equal(t, "Name is required", badReq.Message)
	assert.False(t, r.Identified())
}

func TestDelete(t *testing.T) {
	ft := &fakeTransport{}

	resp, err := New(accounts(t), ft, nil).Delete(context.Background())
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Empty(t, ft.calls)

	ft.replies = []odata.RawResponse{reply(http.StatusNoContent, "")}

	resp, err = New(accounts(t), ft, map[string]any{"id": accountID}).Delete(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success())

	require.Len(t, ft.calls, 1)
	assert.Equal(t, http.MethodDelete, ft.calls[0].method)
	assert.Equal(t, "crm/Accounts(guid'"+accountID+"')", ft.calls[0].uri)
}

func TestAttrAccessors(t *testing.T) {
	r := New(accounts(t), &fakeTransport{}, map[string]any{"AccountName": "ignored", "Name": "Acme"})

	v, ok := r.Attr("name")
	assert.True(t, ok)
	assert.Equal(t, "Acme", v)

	v, ok = r.Attr("Email")
	assert.False(t, ok)
	assert.Nil(t, v)

	assert.True(t, r.SetAttr("Email", "a@b.c"))
	v, _ = r.Attr("email")
	assert.Equal(t, "a@b.c", v)

	before := r.Attributes()
	assert.False(t, r.SetAttr("shoe_size", 44))
	assert.Equal(t, before, r.Attributes())

	// Attributes returns a copy.
	attrs := r.Attributes()
	attrs["name"] = "mutated"
	v, _ = r.Attr("name")
	assert.Equal(t, "Acme", v)
}

func TestValid(t *testing.T) {
	def, ok := Lookup("contacts")
	require.True(t, ok)

	r := New(def, &fakeTransport{}, map[string]any{"account": accountID, "first_name": "Ada"})
	assert.False(t, r.Valid())
	assert.Equal(t, []string{"last_name"}, r.MissingAttributes())

	// Presence counts, not value.
	r.SetAttr("LastName", nil)
	assert.True(t, r.Valid())
}

func TestDefinition_WireNamedAttributes(t *testing.T) {
	def := &Definition{
		Name:          "widgets",
		BasePath:      "logistics/Widgets",
		Mandatory:     []string{"Name"},
		Optional:      []string{"Code", "ID", "Created"},
		Unsubmittable: []string{"ID", "Created"},
		IDAttribute:   "ID",
	}

	assert.Equal(t, []string{"name"}, def.MandatoryAttributes())
	assert.Equal(t, []string{"name", "code", "id", "created"}, def.ValidAttributes())
	assert.True(t, def.Valid("name"))
	assert.False(t, def.Submittable("created"))
	assert.Equal(t, "ID", def.KeyField())

	ft := &fakeTransport{replies: []odata.RawResponse{
		reply(http.StatusCreated, `{"d":{"ID":"`+accountID+`","Name":"Acme","Code":"W1"}}`),
	}}

	r := New(def, ft, map[string]any{"Name": "Acme"})
	assert.True(t, r.SetAttr("Code", "W1"))
	assert.True(t, r.Valid())
	assert.Empty(t, r.MissingAttributes())

	v, ok := r.Attr("code")
	assert.True(t, ok)
	assert.Equal(t, "W1", v)

	resp, err := r.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success())

	require.Len(t, ft.calls, 1)
	assert.Equal(t, http.MethodPost, ft.calls[0].method)
	assert.Equal(t, map[string]any{"Name": "Acme", "Code": "W1"}, ft.calls[0].body)
	assert.Equal(t, accountID, r.ID())
}

func TestTransportErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection refused")
	ft := &fakeTransport{err: boom}

	r := New(accounts(t), ft, map[string]any{"id": accountID})

	_, err := r.Find(context.Background())
	require.ErrorIs(t, err, boom)

	var badReq *odata.BadRequestError
	assert.False(t, errors.As(err, &badReq))
	assert.Nil(t, r.LastResponse())
}

func TestRateLimitedResponse(t *testing.T) {
	raw := reply(http.StatusOK, `{"d":{"results":[]}}`)
	raw.Headers = map[string]string{"X-RateLimit-Minutely-Remaining": "0"}

	ft := &fakeTransport{replies: []odata.RawResponse{raw}}

	_, err := New(accounts(t), ft, nil).FindAll(context.Background(), FindOptions{})
	assert.ErrorIs(t, err, odata.ErrMinutelyRateLimitExceeded)
}

func TestClone(t *testing.T) {
	r := New(accounts(t), &fakeTransport{}, map[string]any{"name": "Acme"})

	c := r.Clone()
	c.SetAttr("name", "Other")

	v, _ := r.Attr("name")
	assert.Equal(t, "Acme", v)
	assert.Same(t, r.Definition(), c.Definition())
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}

	assert.Equal(t, "accounts,contacts,divisions,gl_accounts,items,journals,me,sales_invoices,sales_orders",
		strings.Join(names, ","))

	def, ok := Lookup("SalesInvoices")
	require.True(t, ok)
	assert.Equal(t, "salesinvoice/SalesInvoices", def.BasePath)

	_, ok = Lookup("nope")
	assert.False(t, ok)

	acc := accounts(t)
	assert.True(t, acc.Valid("VATNumber"))
	assert.False(t, acc.Submittable("id"))
	assert.True(t, acc.Submittable("name"))
	assert.Equal(t, "name", acc.ValidAttributes()[0])
}
