package resource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/exact-go/internal/odata"
)

// Transport issues one HTTP round trip. uri is either relative to the
// division root or absolute (pagination links). body is nil for requests
// without a payload. Connection-level failures are returned as errors;
// every HTTP status, including 4xx/5xx, is returned as a RawResponse.
type Transport interface {
	Do(ctx context.Context, method, uri string, body map[string]any) (odata.RawResponse, error)
}

// FindOptions narrows a collection query. All names are attribute names in
// any spelling; they are converted to wire names when the URI is built.
type FindOptions struct {
	// Filters names attributes whose current values become equality
	// (or, for slice values, inclusion) clauses.
	Filters []string
	OrderBy []string
	Select  []string
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets the logger used for request tracing and failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resource) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResponseOptions sets the rate-limit header names used when
// classifying replies.
func WithResponseOptions(opts odata.ResponseOptions) Option {
	return func(r *Resource) {
		r.respOpts = opts
	}
}

// Resource is a client-side proxy for one entity of a Definition. It is not
// safe for concurrent use; use one Resource per goroutine.
type Resource struct {
	def       *Definition
	transport Transport
	attrs     Attributes
	respOpts  odata.ResponseOptions
	logger    *slog.Logger
	last      *odata.Response
}

// New creates a Resource over transport. attrs may be nil; its keys are
// normalized (AccountName and account_name are the same attribute).
func New(def *Definition, transport Transport, attrs map[string]any, opts ...Option) *Resource {
	r := &Resource{
		def:       def,
		transport: transport,
		attrs:     NormalizeAttributes(attrs),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.respOpts.Logger == nil {
		r.respOpts.Logger = r.logger
	}

	return r
}

// Definition returns the resource type.
func (r *Resource) Definition() *Definition { return r.def }

// ID returns the key attribute's value, or nil.
func (r *Resource) ID() any {
	return r.attrs[r.def.idAttribute()]
}

// Identified reports whether the key attribute is set to a non-nil value.
func (r *Resource) Identified() bool {
	return r.ID() != nil
}

// Attr returns the named attribute. Unknown or unset names yield (nil, false).
func (r *Resource) Attr(name string) (any, bool) {
	v, ok := r.attrs[NormalizeKey(name)]

	return v, ok
}

// SetAttr assigns the named attribute. Names outside the definition's
// allow-list are rejected and leave the attributes unchanged.
func (r *Resource) SetAttr(name string, value any) bool {
	key := NormalizeKey(name)
	if !r.def.Valid(key) {
		r.logger.Debug("rejected attribute",
			slog.String("resource", r.def.Name),
			slog.String("attribute", key),
		)

		return false
	}

	r.attrs[key] = value

	return true
}

// Attributes returns a copy of the attribute map.
func (r *Resource) Attributes() Attributes {
	return r.attrs.Clone()
}

// MissingAttributes returns the mandatory names absent from the attribute map.
func (r *Resource) MissingAttributes() []string {
	var missing []string

	for _, name := range r.def.MandatoryAttributes() {
		if _, ok := r.attrs[name]; !ok {
			missing = append(missing, name)
		}
	}

	return missing
}

// Valid reports whether every mandatory attribute is present.
func (r *Resource) Valid() bool {
	return len(r.MissingAttributes()) == 0
}

// Sanitize returns the submittable attributes keyed by wire name. Names
// outside the allow-list and unsubmittable names are dropped.
func (r *Resource) Sanitize() map[string]any {
	out := make(map[string]any, len(r.attrs))

	for k, v := range r.attrs {
		if r.def.Submittable(k) {
			out[WireName(k)] = v
		}
	}

	return out
}

// LastResponse returns the response of the most recent successful call, or
// the synthetic reply of a rejected Save. It is reset when a call starts.
func (r *Resource) LastResponse() *odata.Response {
	return r.last
}

func (r *Resource) builder(opts FindOptions) *odata.URIBuilder {
	b := &odata.URIBuilder{
		BasePath: r.def.BasePath,
		IDField:  r.def.KeyField(),
		ID:       r.ID(),
		OrderBy:  WireNames(opts.OrderBy),
		Select:   WireNames(opts.Select),
	}

	for _, name := range opts.Filters {
		key := NormalizeKey(name)
		b.Filters = append(b.Filters, odata.Filter{Field: WireName(key), Value: r.attrs[key]})
	}

	return b
}

// URI renders the resource's query URI with the given segments.
func (r *Resource) URI(opts FindOptions, segments ...odata.Segment) string {
	return r.builder(opts).Build(segments...)
}

// Get issues a GET against uri, or against the base path when uri is empty.
func (r *Resource) Get(ctx context.Context, uri string) (*odata.Response, error) {
	if uri == "" {
		uri = r.URI(FindOptions{})
	}

	return r.do(ctx, http.MethodGet, uri, nil)
}

// FindAll fetches one page of the collection, ordered and projected per opts.
// Filters in opts are ignored; use FindBy.
func (r *Resource) FindAll(ctx context.Context, opts FindOptions) (*odata.ResultSet, error) {
	resp, err := r.Get(ctx, r.URI(opts, odata.SegmentOrder, odata.SegmentSelect))
	if err != nil {
		return nil, err
	}

	return resp.Results(), nil
}

// FindBy fetches one page of the collection filtered on the current values
// of opts.Filters.
func (r *Resource) FindBy(ctx context.Context, opts FindOptions) (*odata.ResultSet, error) {
	resp, err := r.Get(ctx, r.URI(opts, odata.SegmentOrder, odata.SegmentSelect, odata.SegmentFilters))
	if err != nil {
		return nil, err
	}

	return resp.Results(), nil
}

// Find fetches the entity with the resource's ID. It returns (nil, nil)
// without a request when the resource is unidentified, and a nil record
// when nothing matched.
func (r *Resource) Find(ctx context.Context) (odata.Record, error) {
	if !r.Identified() {
		return nil, nil
	}

	resp, err := r.Get(ctx, r.URI(FindOptions{}, odata.SegmentID))
	if err != nil {
		return nil, err
	}

	rec, _ := resp.Results().First()

	return rec, nil
}

// Save creates (POST) an unidentified resource or updates (PUT) an
// identified one. An invalid resource is not sent: Save logs the missing
// attributes and returns a synthetic 400 "Invalid Request" response with a
// nil error. After a successful create the server-assigned key is adopted.
func (r *Resource) Save(ctx context.Context) (*odata.Response, error) {
	r.last = nil

	body := r.Sanitize()

	if missing := r.MissingAttributes(); len(missing) > 0 {
		r.logger.Error("invalid resource",
			slog.String("resource", r.def.Name),
			slog.Any("missing", missing),
		)

		r.last = odata.NewInvalidRequestResponse(r.respOpts.Logger)

		return r.last, nil
	}

	if r.Identified() {
		return r.do(ctx, http.MethodPut, r.builder(FindOptions{}).IdentifiedPath(), body)
	}

	resp, err := r.do(ctx, http.MethodPost, r.def.BasePath, body)
	if err != nil {
		return nil, err
	}

	r.adoptID(resp)

	return resp, nil
}

func (r *Resource) adoptID(resp *odata.Response) {
	d, ok := resp.Result()
	if !ok {
		return
	}

	if id, ok := d[r.def.KeyField()]; ok && id != nil {
		r.attrs[r.def.idAttribute()] = id
	}
}

// Delete removes the identified entity. It returns (nil, nil) without a
// request when the resource is unidentified.
func (r *Resource) Delete(ctx context.Context) (*odata.Response, error) {
	if !r.Identified() {
		return nil, nil
	}

	return r.do(ctx, http.MethodDelete, r.builder(FindOptions{}).IdentifiedPath(), nil)
}

func (r *Resource) do(ctx context.Context, method, uri string, body map[string]any) (*odata.Response, error) {
	r.last = nil

	r.logger.Debug("resource request",
		slog.String("resource", r.def.Name),
		slog.String("method", method),
		slog.String("uri", uri),
	)

	raw, err := r.transport.Do(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("resource: %s %s: %w", method, uri, err)
	}

	resp, err := odata.NewResponse(raw, r.respOpts)
	if err != nil {
		return nil, fmt.Errorf("resource: %s %s: %w", method, r.def.Name, err)
	}

	r.last = resp

	return resp, nil
}

// Clone returns an independent Resource of the same type with a copy of the
// attributes and no last response.
func (r *Resource) Clone() *Resource {
	c := *r
	c.attrs = r.attrs.Clone()
	c.last = nil

	return &c
}
