package odata

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default names of the rate-limit headers sent by Exact Online.
const (
	DefaultMinutelyRemainingHeader = "x-ratelimit-minutely-remaining"
	DefaultMinutelyLimitHeader     = "x-ratelimit-minutely-limit"
	DefaultMinutelyResetHeader     = "x-ratelimit-minutely-reset"
	DefaultDailyRemainingHeader    = "x-ratelimit-remaining"
	DefaultDailyLimitHeader        = "x-ratelimit-limit"
	DefaultDailyResetHeader        = "x-ratelimit-reset"
)

// Body of the synthetic response returned for resources that fail validation.
const invalidRequestBody = "Invalid Request"

// successCodes are treated as success regardless of the transport flag.
// 200 is deliberately absent: it relies on the transport's own flag.
var successCodes = []int{201, 202, 203, 204, 301, 302, 303, 304}

// errorCodes fail response construction with a BadRequestError.
var errorCodes = []int{400, 401, 402, 403, 404, 429, 500, 501, 502, 503}

// RawResponse is the transport's view of one HTTP reply.
type RawResponse interface {
	StatusCode() int
	Header(name string) (string, bool)
	Body() []byte
	// Success is the transport's own verdict, independent of the status sets.
	Success() bool
}

// ResponseOptions configures classification. Zero values select defaults.
type ResponseOptions struct {
	MinutelyHeader string
	DailyHeader    string
	Logger         *slog.Logger
}

func (o ResponseOptions) withDefaults() ResponseOptions {
	if o.MinutelyHeader == "" {
		o.MinutelyHeader = DefaultMinutelyRemainingHeader
	}

	if o.DailyHeader == "" {
		o.DailyHeader = DefaultDailyRemainingHeader
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// Response wraps one transport reply that passed classification. It is
// immutable apart from the lazily built parser.
type Response struct {
	raw    RawResponse
	opts   ResponseOptions
	once   sync.Once
	parser *Parser
}

// NewResponse classifies raw. Rate-limit exhaustion is checked first
// (minutely, then daily) and wins over any status code; then statuses in the
// error set produce a logged BadRequestError.
func NewResponse(raw RawResponse, opts ResponseOptions) (*Response, error) {
	r := &Response{raw: raw, opts: opts.withDefaults()}

	if err := r.checkRateLimit(MinutelyRateLimit, r.opts.MinutelyHeader, DefaultMinutelyResetHeader); err != nil {
		return nil, err
	}

	if err := r.checkRateLimit(DailyRateLimit, r.opts.DailyHeader, DefaultDailyResetHeader); err != nil {
		return nil, err
	}

	if r.Failed() {
		return nil, r.badRequest()
	}

	return r, nil
}

// NewInvalidRequestResponse returns the synthetic 400 reply used when a
// resource fails validation before any request is made. It bypasses
// classification.
func NewInvalidRequestResponse(logger *slog.Logger) *Response {
	raw := &StaticResponse{Status: http.StatusBadRequest, Content: []byte(invalidRequestBody)}

	return &Response{raw: raw, opts: ResponseOptions{Logger: logger}.withDefaults()}
}

func (r *Response) checkRateLimit(kind RateLimitKind, header, resetHeader string) error {
	remaining, exhausted := r.rateLimitExceeded(header)
	if !exhausted {
		return nil
	}

	err := &RateLimitError{
		Kind:       kind,
		Header:     header,
		Remaining:  remaining,
		Reset:      r.headerTime(resetHeader),
		StatusCode: r.raw.StatusCode(),
	}

	r.opts.Logger.Error("rate limit exceeded",
		slog.String("window", kind.String()),
		slog.Int("status", r.raw.StatusCode()),
		slog.Int("remaining", remaining),
	)

	return err
}

// rateLimitExceeded is true only when the header is present and parses to an
// integer <= 0. A missing or malformed header never trips the limit.
func (r *Response) rateLimitExceeded(header string) (int, bool) {
	v, ok := r.headerInt(header)
	if !ok {
		return 0, false
	}

	return v, v <= 0
}

func (r *Response) badRequest() error {
	p := r.Parser()
	msg, _ := p.ErrorMessage()

	r.opts.Logger.Error("request failed",
		slog.Int("status", r.raw.StatusCode()),
		slog.String("error_message", msg),
	)

	return &BadRequestError{
		StatusCode: r.raw.StatusCode(),
		Message:    msg,
		Raw:        r.raw,
		Parser:     p,
		Err:        classifyStatus(r.raw.StatusCode()),
	}
}

// Success reports the transport's success flag or a status in the success set.
func (r *Response) Success() bool {
	return r.raw.Success() || slices.Contains(successCodes, r.raw.StatusCode())
}

// Failed reports whether the status is in the error set.
func (r *Response) Failed() bool {
	return slices.Contains(errorCodes, r.raw.StatusCode())
}

// StatusCode returns the HTTP status.
func (r *Response) StatusCode() int {
	return r.raw.StatusCode()
}

// Header looks up a response header.
func (r *Response) Header(name string) (string, bool) {
	return r.raw.Header(name)
}

// Body returns the raw response body.
func (r *Response) Body() []byte {
	return r.raw.Body()
}

// Parser returns the envelope parser, building it on first use.
func (r *Response) Parser() *Parser {
	r.once.Do(func() {
		r.parser = NewParser(r.raw.Body(), r.opts.Logger)
	})

	return r.parser
}

// Results returns a ResultSet over d.results. It is never nil.
func (r *Response) Results() *ResultSet {
	p := r.Parser()
	records, _ := p.Results()
	next, _ := p.NextPageURL()
	meta, _ := p.Metadata()

	return &ResultSet{Records: records, NextPageURL: next, Metadata: meta}
}

// Result returns the "d" container, e.g. the created entity after a POST.
func (r *Response) Result() (map[string]any, bool) {
	return r.Parser().Result()
}

// Metadata returns d.__metadata.
func (r *Response) Metadata() (map[string]any, bool) {
	return r.Parser().Metadata()
}

// NextPageURL returns d.__next.
func (r *Response) NextPageURL() (string, bool) {
	return r.Parser().NextPageURL()
}

// ErrorMessage returns error.message.value.
func (r *Response) ErrorMessage() (string, bool) {
	return r.Parser().ErrorMessage()
}

// RateLimitWindow is the state of one rate-limit window as reported by the API.
// Fields are -1 when the corresponding header is absent.
type RateLimitWindow struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimitStatus reports both rate-limit windows.
type RateLimitStatus struct {
	Minutely RateLimitWindow
	Daily    RateLimitWindow
}

// RateLimit reads the rate-limit headers of the response.
func (r *Response) RateLimit() RateLimitStatus {
	return RateLimitStatus{
		Minutely: r.window(DefaultMinutelyLimitHeader, r.opts.MinutelyHeader, DefaultMinutelyResetHeader),
		Daily:    r.window(DefaultDailyLimitHeader, r.opts.DailyHeader, DefaultDailyResetHeader),
	}
}

func (r *Response) window(limitHeader, remainingHeader, resetHeader string) RateLimitWindow {
	w := RateLimitWindow{Limit: -1, Remaining: -1, Reset: r.headerTime(resetHeader)}

	if v, ok := r.headerInt(limitHeader); ok {
		w.Limit = v
	}

	if v, ok := r.headerInt(remainingHeader); ok {
		w.Remaining = v
	}

	return w
}

func (r *Response) headerInt(name string) (int, bool) {
	raw, ok := r.raw.Header(name)
	if !ok {
		return 0, false
	}

	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.opts.Logger.Warn("ignoring non-numeric rate limit header",
			slog.String("header", name),
			slog.String("value", raw),
		)

		return 0, false
	}

	return v, true
}

// headerTime parses a reset header given in milliseconds since the epoch.
func (r *Response) headerTime(name string) time.Time {
	raw, ok := r.raw.Header(name)
	if !ok {
		return time.Time{}
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}

// ResultSet is the ordered sequence of records returned by a query, along
// with the page link and metadata of the envelope it came from.
type ResultSet struct {
	Records     []Record
	NextPageURL string
	Metadata    map[string]any
}

// Len returns the number of records.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}

	return len(rs.Records)
}

// First returns the first record, or false for an empty set.
func (rs *ResultSet) First() (Record, bool) {
	if rs.Len() == 0 {
		return nil, false
	}

	return rs.Records[0], true
}

// HasNextPage reports whether the envelope carried a __next link.
func (rs *ResultSet) HasNextPage() bool {
	return rs != nil && rs.NextPageURL != ""
}
