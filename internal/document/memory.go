package document

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// MemoryStore keeps documents in process memory. It backs the memory
// deployment profile and every package test.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[int64]Document
	codes  map[Kind]map[string]int64
	nextID int64
	clock  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[int64]Document),
		codes: make(map[Kind]map[string]int64),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Create assigns identity, code and version 1.
func (s *MemoryStore) Create(_ context.Context, doc Document) (Document, error) {
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.clock()
	doc = doc.Clone()
	doc.ID = s.nextID
	doc.Code = doc.Kind.FormatCode(doc.ID)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if s.codes[doc.Kind] == nil {
		s.codes[doc.Kind] = make(map[string]int64)
	}
	s.codes[doc.Kind][doc.Code] = doc.ID
	s.docs[doc.ID] = doc
	return doc.Clone(), nil
}

// Get loads one document.
func (s *MemoryStore) Get(_ context.Context, kind Kind, id int64) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.Kind != kind {
		return Document{}, notFound(kind, id)
	}
	return doc.Clone(), nil
}

// GetByCode loads one document by its code.
func (s *MemoryStore) GetByCode(_ context.Context, kind Kind, code string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[kind][code]
	if !ok {
		return Document{}, notFound(kind, code)
	}
	return s.docs[id].Clone(), nil
}

// FindBySource lists children of kind created from the given source.
func (s *MemoryStore) FindBySource(_ context.Context, kind, sourceKind Kind, sourceCode string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.docs {
		if doc.Kind == kind && doc.SourceKind == sourceKind && doc.SourceCode == sourceCode {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update runs mutate against the current snapshot and writes the result with
// an incremented version.
func (s *MemoryStore) Update(_ context.Context, kind Kind, id, expectedVersion int64, mutate Mutator) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[id]
	if !ok || current.Kind != kind {
		return Document{}, notFound(kind, id)
	}
	if expectedVersion != AnyVersion && current.Version != expectedVersion {
		return Document{}, conflict(current, expectedVersion)
	}
	next, err := mutate(current.Clone())
	if err != nil {
		return Document{}, err
	}
	if err := checkImmutable(current, next); err != nil {
		return Document{}, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.clock()
	if next.UpdatedAt.Before(current.UpdatedAt) {
		next.UpdatedAt = current.UpdatedAt
	}
	next = next.Clone()
	s.docs[id] = next
	return next.Clone(), nil
}

// List returns matching documents newest first plus the total match count.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Document, int, error) {
	s.mu.RLock()
	matched := make([]Document, 0)
	for _, doc := range s.docs {
		if filter.Matches(doc) {
			matched = append(matched, doc)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if filter.PerPage <= 0 && filter.Page <= 0 {
		return cloneAll(matched), total, nil
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	start := page.Offset()
	if start >= total {
		return []Document{}, total, nil
	}
	end := start + page.PerPage
	if end > total {
		end = total
	}
	return cloneAll(matched[start:end]), total, nil
}

func cloneAll(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
