package odata

import (
	"net/http"
	"net/textproto"
)

// HTTPResponse adapts a fully read *http.Response to RawResponse.
type HTTPResponse struct {
	status int
	header http.Header
	body   []byte
}

// NewHTTPResponse wraps resp. The caller has already read and closed
// resp.Body and passes its contents as body.
func NewHTTPResponse(resp *http.Response, body []byte) *HTTPResponse {
	return &HTTPResponse{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   body,
	}
}

func (r *HTTPResponse) StatusCode() int { return r.status }

func (r *HTTPResponse) Header(name string) (string, bool) {
	vals, ok := r.header[textproto.CanonicalMIMEHeaderKey(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}

	return vals[0], true
}

func (r *HTTPResponse) Body() []byte { return r.body }

// Success is true for 2xx statuses.
func (r *HTTPResponse) Success() bool {
	return r.status >= http.StatusOK && r.status < http.StatusMultipleChoices
}

// StaticResponse is an in-memory RawResponse, used for synthetic replies and
// in tests. Header names are matched case-insensitively.
type StaticResponse struct {
	Status  int
	Headers map[string]string
	Content []byte
	OK      bool
}

func (r *StaticResponse) StatusCode() int { return r.Status }

func (r *StaticResponse) Header(name string) (string, bool) {
	want := textproto.CanonicalMIMEHeaderKey(name)
	for k, v := range r.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == want {
			return v, true
		}
	}

	return "", false
}

func (r *StaticResponse) Body() []byte { return r.Content }

func (r *StaticResponse) Success() bool { return r.OK }
