package odata

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
)

// Envelope keys of the OData v2 verbose JSON format.
const (
	keyData     = "d"
	keyResults  = "results"
	keyMetadata = "__metadata"
	keyNext     = "__next"
	keyError    = "error"
	keyMessage  = "message"
	keyValue    = "value"
)

// Record is one decoded entity from a result set, keyed by wire field name.
type Record map[string]any

// Parser exposes the parts of a decoded response envelope. A body that is
// not valid JSON degrades to an empty envelope; no accessor ever panics.
type Parser struct {
	envelope map[string]any

	errOnce sync.Once
	errMsg  string
	errOK   bool
}

// NewParser decodes body. Decode failures are logged once, together with the
// raw body, and leave the parser empty.
func NewParser(body []byte, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Parser{}

	if len(bytes.TrimSpace(body)) == 0 {
		return p
	}

	var root any

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := dec.Decode(&root); err != nil {
		logger.Error("failed to parse response body",
			slog.String("error", err.Error()),
			slog.String("body", string(body)),
		)

		return p
	}

	if obj, ok := root.(map[string]any); ok {
		p.envelope = obj
	}

	return p
}

// Result returns the "d" container.
func (p *Parser) Result() (map[string]any, bool) {
	return objectAt(p.envelope, keyData)
}

// Results returns d.results. Elements that are not JSON objects are skipped.
func (p *Parser) Results() ([]Record, bool) {
	d, ok := p.Result()
	if !ok {
		return nil, false
	}

	raw, ok := d[keyResults].([]any)
	if !ok {
		return nil, false
	}

	records := make([]Record, 0, len(raw))
	for _, elem := range raw {
		if obj, isObj := elem.(map[string]any); isObj {
			records = append(records, Record(obj))
		}
	}

	return records, true
}

// Metadata returns d.__metadata.
func (p *Parser) Metadata() (map[string]any, bool) {
	d, ok := p.Result()
	if !ok {
		return nil, false
	}

	return objectAt(d, keyMetadata)
}

// NextPageURL returns d.__next, the absolute URL of the following page.
func (p *Parser) NextPageURL() (string, bool) {
	d, ok := p.Result()
	if !ok {
		return "", false
	}

	next, ok := d[keyNext].(string)

	return next, ok
}

// ErrorMessage returns error.message.value. Computed once.
func (p *Parser) ErrorMessage() (string, bool) {
	p.errOnce.Do(func() {
		errObj, ok := objectAt(p.envelope, keyError)
		if !ok {
			return
		}

		msg, ok := objectAt(errObj, keyMessage)
		if !ok {
			return
		}

		p.errMsg, p.errOK = msg[keyValue].(string)
	})

	return p.errMsg, p.errOK
}

// FirstResult returns the first element of Results, or false when the result
// set is absent or empty.
func (p *Parser) FirstResult() (Record, bool) {
	records, ok := p.Results()
	if !ok || len(records) == 0 {
		return nil, false
	}

	return records[0], true
}

func objectAt(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}

	obj, ok := m[key].(map[string]any)

	return obj, ok
}
