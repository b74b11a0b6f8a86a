package store

import (
	"strconv"
	"sync"

	"github.com/go-scripts/crmcrawl/internal/types"
)

// Records is the deduplicated set of extracted records keyed by the key field.
// The first page a key is seen on wins; later sightings are discarded.
type Records struct {
	keyField  string
	pageField string

	mu      sync.Mutex
	order   []string
	byKey   map[string]types.Record
	dropped int
}

// NewRecords creates an empty store. keyField names the unique identifier and
// pageField the annotation added on ingestion.
func NewRecords(keyField, pageField string) *Records {
	return &Records{
		keyField:  keyField,
		pageField: pageField,
		byKey:     make(map[string]types.Record),
	}
}

// Merge inserts every record whose key is unseen, annotated with page, and
// returns how many were inserted. Records without a key value are dropped.
func (s *Records) Merge(records []types.Record, page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := 0
	for _, rec := range records {
		key, ok := rec.Get(s.keyField)
		if !ok || key == "" {
			s.dropped++
			continue
		}
		if _, seen := s.byKey[key]; seen {
			continue
		}
		stored := rec.Clone()
		stored.Set(s.pageField, strconv.Itoa(page))
		s.byKey[key] = stored
		s.order = append(s.order, key)
		merged++
	}
	return merged
}

// Has reports whether key has been stored.
func (s *Records) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

// AllKnown reports whether every record's key is already stored. An empty
// slice counts as all known: a page that yields nothing is as suspicious as
// one that repeats the previous page.
func (s *Records) AllKnown(records []types.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		key, _ := rec.Get(s.keyField)
		if _, ok := s.byKey[key]; !ok {
			return false
		}
	}
	return true
}

// Get returns the stored record for key.
func (s *Records) Get(key string) (types.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[key]
	if !ok {
		return types.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of distinct keys stored.
func (s *Records) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Dropped returns how many records arrived without a key value.
func (s *Records) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Last returns the most recently inserted record.
func (s *Records) Last() (types.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return types.Record{}, false
	}
	return s.byKey[s.order[len(s.order)-1]].Clone(), true
}

// Snapshot returns copies of all stored records in insertion order.
func (s *Records) Snapshot() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key].Clone())
	}
	return out
}
