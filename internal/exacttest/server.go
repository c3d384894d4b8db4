// Package exacttest provides an in-memory fake of the Exact Online REST API
// for tests. It serves the OData envelope, pages with __next links, reports
// rate-limit headers, and can be told to fail the next request.
package exacttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// DefaultPageSize is the number of records per page.
const DefaultPageSize = 60

// RateLimit is the state reported in the x-ratelimit-* headers. A negative
// limit disables that window.
type RateLimit struct {
	MinutelyLimit     int
	MinutelyRemaining int
	DailyLimit        int
	DailyRemaining    int
	Reset             time.Time
}

type fault struct {
	status  int
	message string
}

// Server is a running fake API. Close it when done.
type Server struct {
	*httptest.Server

	// Token is the expected bearer token; empty accepts any.
	Token string
	// Division is the only division accepted in division-scoped paths.
	Division int
	// PageSize limits records per page.
	PageSize int

	store *memoryStore

	mu       sync.Mutex
	me       map[string]any
	rate     *RateLimit
	faults   []fault
	requests []string
}

// NewServer starts a fake API for division.
func NewServer(division int) *Server {
	s := &Server{
		Division: division,
		PageSize: DefaultPageSize,
		store:    newMemoryStore(),
		me: map[string]any{
			"UserID":          "5c1c6f37-0a3b-4d8e-9e0a-1f2b3c4d5e6f",
			"UserName":        "ada@example.com",
			"FullName":        "Ada Lovelace",
			"Email":           "ada@example.com",
			"CurrentDivision": division,
		},
	}

	s.Server = httptest.NewServer(s.router())

	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recordRequest)
	r.Use(s.authenticate)
	r.Use(s.injectFaults)
	r.Use(s.rateLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/current/Me", s.getMe)

		r.Route("/{division}", func(r chi.Router) {
			r.Use(s.checkDivision)

			r.Get("/{service}/{entity}", s.getEntity)
			r.Post("/{service}/{entity}", s.createEntity)
			r.Put("/{service}/{entity}", s.updateEntity)
			r.Delete("/{service}/{entity}", s.deleteEntity)
		})
	})

	return r
}

// Seed inserts records into the entity set at path ("crm/Accounts").
// Records without a key get a fresh GUID.
func (s *Server) Seed(path string, records ...map[string]any) {
	for _, rec := range records {
		s.store.insert(path, rec)
	}
}

// SetKeyField changes the key property of an entity set (default "ID").
func (s *Server) SetKeyField(path, field string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.store.idKey[path] = field
}

// Record returns a stored record by key.
func (s *Server) Record(path, id string) (map[string]any, bool) {
	return s.store.get(path, id)
}

// Count returns the number of stored records in an entity set.
func (s *Server) Count(path string) int {
	return s.store.count(path)
}

// SetMe replaces the /current/Me record.
func (s *Server) SetMe(me map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.me = me
}

// SetRateLimit enables rate-limit headers. Every request consumes one call
// from both windows; a request arriving with a window exhausted gets 429.
func (s *Server) SetRateLimit(rl RateLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate = &rl
}

// FailNext makes the next request fail with status and an error envelope
// carrying message. Calls queue.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults = append(s.faults, fault{status: status, message: message})
}

// Requests returns "METHOD /path?query" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.requests...)
}

func (s *Server) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Path
		if q, err := url.QueryUnescape(r.URL.RawQuery); err == nil && q != "" {
			uri += "?" + q
		}

		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+uri)
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()

		var f *fault
		if len(s.faults) > 0 {
			f = &s.faults[0]
			s.faults = s.faults[1:]
		}

		s.mu.Unlock()

		if f != nil {
			writeError(w, f.status, f.message)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()

		if s.rate == nil {
			s.mu.Unlock()
			next.ServeHTTP(w, r)

			return
		}

		rl := s.rate
		exhausted := (rl.MinutelyLimit >= 0 && rl.MinutelyRemaining <= 0) ||
			(rl.DailyLimit >= 0 && rl.DailyRemaining <= 0)

		if !exhausted {
			rl.MinutelyRemaining--
			rl.DailyRemaining--
		}

		h := w.Header()

		if rl.MinutelyLimit >= 0 {
			h.Set("X-RateLimit-Minutely-Limit", strconv.Itoa(rl.MinutelyLimit))
			h.Set("X-RateLimit-Minutely-Remaining", strconv.Itoa(max(rl.MinutelyRemaining, 0)))
		}

		if rl.DailyLimit >= 0 {
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.DailyLimit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.DailyRemaining, 0)))
		}

		if !rl.Reset.IsZero() {
			reset := strconv.FormatInt(rl.Reset.UnixMilli(), 10)
			h.Set("X-RateLimit-Minutely-Reset", reset)
			h.Set("X-RateLimit-Reset", reset)
		}

		s.mu.Unlock()

		if exhausted {
			writeError(w, http.StatusTooManyRequests, "API rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkDivision(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "division") != strconv.Itoa(s.Division) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) getMe(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	me := s.me
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": []any{me}}})
}

// target splits "Accounts(guid'…')" into the entity set path and key.
func target(r *http.Request) (set, key string, hasKey bool) {
	service := chi.URLParam(r, "service")
	entity := chi.URLParam(r, "entity")
	if v, err := url.PathUnescape(entity); err == nil {
		entity = v
	}

	name, rest, found := strings.Cut(entity, "(")
	if !found {
		return service + "/" + entity, "", false
	}

	return service + "/" + name, keyLiteral(strings.TrimSuffix(rest, ")")), true
}

func keyLiteral(lit string) string {
	switch {
	case strings.HasPrefix(lit, "guid'") && strings.HasSuffix(lit, "'"):
		return lit[len("guid'") : len(lit)-1]
	case len(lit) >= 2 && strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'"):
		return strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
	default:
		return lit
	}
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	set, key, hasKey := target(r)

	if hasKey {
		rec, ok := s.store.get(set, key)
		if !ok {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"d": rec})

		return
	}

	q := r.URL.Query()

	clauses, err := parseFilter(q.Get("$filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var orderBy []string
	if v := q.Get("$orderby"); v != "" {
		orderBy = strings.Split(v, ",")
	}

	records := s.store.list(set, clauses, orderBy)

	skip, _ := strconv.Atoi(q.Get("$skiptoken"))
	if skip > len(records) {
		skip = len(records)
	}

	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	end := min(skip+pageSize, len(records))
	page := records[skip:end]

	if sel := q.Get("$select"); sel != "" {
		page = project(page, strings.Split(sel, ","))
	}

	results := make([]any, 0, len(page))
	for _, rec := range page {
		results = append(results, rec)
	}

	d := map[string]any{"results": results}

	if end < len(records) {
		next := *r.URL
		next.Scheme = "http"
		next.Host = r.Host

		nq := next.Query()
		nq.Set("$skiptoken", strconv.Itoa(end))
		next.RawQuery = nq.Encode()

		d["__next"] = next.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{"d": d})
}

func project(records []map[string]any, fields []string) []map[string]any {
	out := make([]map[string]any, 0, len(records))

	for _, rec := range records {
		p := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				p[f] = v
			}
		}

		out = append(out, p)
	}

	return out
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	set, _, hasKey := target(r)
	if hasKey {
		writeError(w, http.StatusBadRequest, "POST must target the entity set")
		return
	}

	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	rec := s.store.insert(set, body)
	writeJSON(w, http.StatusCreated, map[string]any{"d": rec})
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request) {
	set, key, hasKey := target(r)
	if !hasKey {
		writeError(w, http.StatusBadRequest, "PUT requires a key")
		return
	}

	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	if !s.store.update(set, key, body) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	set, key, hasKey := target(r)
	if !hasKey {
		writeError(w, http.StatusBadRequest, "DELETE requires a key")
		return
	}

	if !s.store.remove(set, key) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON body: %v", err))
		return nil, false
	}

	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the OData error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    "",
			"message": map[string]any{"lang": "", "value": message},
		},
	})
}
