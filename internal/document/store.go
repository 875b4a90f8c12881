package document

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// AnyVersion makes Update compare against the version it just read.
const AnyVersion int64 = 0

// Mutator receives an immutable snapshot and returns the next snapshot.
type Mutator func(current Document) (Document, error)

// Store persists documents with optimistic concurrency on Version.
type Store interface {
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, kind Kind, id int64) (Document, error)
	GetByCode(ctx context.Context, kind Kind, code string) (Document, error)
	FindBySource(ctx context.Context, kind, sourceKind Kind, sourceCode string) ([]Document, error)
	Update(ctx context.Context, kind Kind, id, expectedVersion int64, mutate Mutator) (Document, error)
	List(ctx context.Context, filter Filter) ([]Document, int, error)
}

// Filter narrows List results. Zero values are ignored. CompanyID matches the
// owning company and CounterpartyID the counterparty company.
type Filter struct {
	Kind           Kind
	Statuses       []Status
	CompanyID      int64
	CounterpartyID int64
	From           time.Time
	To             time.Time
	NeedByBefore   time.Time
	NotExpired     bool
	Page           int
	PerPage        int
}

// Matches applies the filter to one document.
func (f Filter) Matches(d Document) bool {
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if d.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CompanyID > 0 && d.CompanyID != f.CompanyID {
		return false
	}
	if f.CounterpartyID > 0 && d.CounterpartyCompanyID != f.CounterpartyID {
		return false
	}
	if !f.From.IsZero() && d.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && d.CreatedAt.After(f.To) {
		return false
	}
	if !f.NeedByBefore.IsZero() && (d.NeedByDate == nil || !d.NeedByDate.Before(f.NeedByBefore)) {
		return false
	}
	if f.NotExpired && d.ExpiredAt != nil {
		return false
	}
	return true
}

func notFound(kind Kind, ref any) error {
	return fmt.Errorf("document: %s %v: %w", kind, ref, shared.ErrNotFound)
}

func conflict(d Document, expected int64) error {
	return fmt.Errorf("document: %s version %d, expected %d: %w", d.Ref(), d.Version, expected, shared.ErrConcurrentModification)
}

// checkImmutable guards the identity fields a mutator must not touch.
func checkImmutable(prev, next Document) error {
	if prev.ID != next.ID || prev.Kind != next.Kind || prev.Code != next.Code || prev.CompanyID != next.CompanyID || !prev.CreatedAt.Equal(next.CreatedAt) {
		return shared.Invariant("document %s: mutator changed identity fields", prev.Ref())
	}
	return nil
}
