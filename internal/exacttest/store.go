package exacttest

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// collection holds one entity set in insertion order.
type collection struct {
	ids     []string
	records map[string]map[string]any
}

// memoryStore is a thread-safe in-memory store keyed by entity set path,
// e.g. "crm/Accounts".
type memoryStore struct {
	mu    sync.RWMutex
	sets  map[string]*collection
	idKey map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sets: make(map[string]*collection), idKey: make(map[string]string)}
}

func (s *memoryStore) keyField(set string) string {
	if k, ok := s.idKey[set]; ok {
		return k
	}

	return "ID"
}

func (s *memoryStore) set(name string) *collection {
	c, ok := s.sets[name]
	if !ok {
		c = &collection{records: make(map[string]map[string]any)}
		s.sets[name] = c
	}

	return c
}

// insert stores rec, assigning a GUID key when it has none. It returns a copy.
func (s *memoryStore) insert(set string, rec map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.keyField(set)

	rec = maps.Clone(rec)
	if rec == nil {
		rec = map[string]any{}
	}

	if rec[key] == nil {
		rec[key] = uuid.NewString()
	}

	id := fmt.Sprint(rec[key])
	c := s.set(set)

	if _, exists := c.records[id]; !exists {
		c.ids = append(c.ids, id)
	}

	c.records[id] = rec

	return maps.Clone(rec)
}

func (s *memoryStore) get(set, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.sets[set]
	if !ok {
		return nil, false
	}

	rec, ok := c.records[id]

	return maps.Clone(rec), ok
}

// update merges fields into an existing record. The key is immutable.
func (s *memoryStore) update(set, id string, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.sets[set]
	if !ok {
		return false
	}

	rec, ok := c.records[id]
	if !ok {
		return false
	}

	key := s.keyField(set)
	for k, v := range fields {
		if k != key {
			rec[k] = v
		}
	}

	return true
}

func (s *memoryStore) remove(set, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.sets[set]
	if !ok {
		return false
	}

	if _, ok := c.records[id]; !ok {
		return false
	}

	delete(c.records, id)
	c.ids = slices.DeleteFunc(c.ids, func(x string) bool { return x == id })

	return true
}

// list returns copies of the records matching every clause, in insertion
// order or sorted by orderBy.
func (s *memoryStore) list(set string, clauses []clause, orderBy []string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.sets[set]
	if !ok {
		return nil
	}

	var out []map[string]any

	for _, id := range c.ids {
		rec := c.records[id]
		if matchAll(rec, clauses) {
			out = append(out, maps.Clone(rec))
		}
	}

	if len(orderBy) > 0 {
		slices.SortStableFunc(out, func(a, b map[string]any) int {
			for _, field := range orderBy {
				name, desc := strings.CutSuffix(field, " desc")
				if cmp := strings.Compare(fmt.Sprint(a[name]), fmt.Sprint(b[name])); cmp != 0 {
					if desc {
						return -cmp
					}

					return cmp
				}
			}

			return 0
		})
	}

	return out
}

func (s *memoryStore) count(set string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.sets[set]; ok {
		return len(c.ids)
	}

	return 0
}
