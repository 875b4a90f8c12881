// Package query serves the read side projections: document lists, Kanban
// boards and dashboards.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/inventory"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

// InventoryReader lists ledger records.
type InventoryReader interface {
	GetInventory(ctx context.Context, filter inventory.RecordFilter) ([]inventory.Record, error)
}

// Config groups service dependencies.
type Config struct {
	Store             document.Store
	Inventory         InventoryReader
	Cache             *Cache
	Logger            *slog.Logger
	LowStockThreshold decimal.Decimal
}

// Service answers read queries.
type Service struct {
	store     document.Store
	inventory InventoryReader
	cache     *Cache
	logger    *slog.Logger
	threshold decimal.Decimal
	builds    singleflight.Group
	clock     func() time.Time
}

// NewService constructs the query service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:     cfg.Store,
		inventory: cfg.Inventory,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
		threshold: cfg.LowStockThreshold,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// DocumentView is a document plus the actions its status allows.
type DocumentView struct {
	document.Document
	Actions []workflow.Action `json:"actions"`
}

// GetDocument loads one document.
func (s *Service) GetDocument(ctx context.Context, kind document.Kind, id int64) (DocumentView, error) {
	doc, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{Document: doc, Actions: actions(doc)}, nil
}

func actions(doc document.Document) []workflow.Action {
	out := workflow.AvailableActions(doc.Kind, doc.Status)
	if out == nil {
		out = []workflow.Action{}
	}
	return out
}

// ListFilter narrows ListDocuments.
type ListFilter struct {
	Statuses       []document.Status
	CompanyID      int64
	CounterpartyID int64
	From           time.Time
	To             time.Time
	Page           int
	PerPage        int
}

// DocumentList is one page of documents.
type DocumentList struct {
	Documents  []document.Document `json:"documents"`
	Pagination shared.Pagination   `json:"pagination"`
}

// ListDocuments returns a page of documents of kind, newest first.
func (s *Service) ListDocuments(ctx context.Context, kind document.Kind, f ListFilter) (DocumentList, error) {
	page, perPage := shared.NormalizePage(f.Page, f.PerPage)
	docs, total, err := s.store.List(ctx, document.Filter{
		Kind:           kind,
		Statuses:       f.Statuses,
		CompanyID:      f.CompanyID,
		CounterpartyID: f.CounterpartyID,
		From:           f.From,
		To:             f.To,
		Page:           page,
		PerPage:        perPage,
	})
	if err != nil {
		return DocumentList{}, fmt.Errorf("query: list %s: %w", kind, err)
	}
	return DocumentList{Documents: docs, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Card is one document on a Kanban board.
type Card struct {
	ID                    int64           `json:"id"`
	Code                  string          `json:"code"`
	CounterpartyCompanyID int64           `json:"counterparty_company_id,omitempty"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	NeedByDate            *time.Time      `json:"need_by_date,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Version               int64           `json:"version"`
}

// Column groups the cards of one status.
type Column struct {
	Status document.Status `json:"status"`
	Title  string          `json:"title"`
	Cards  []Card          `json:"cards"`
}

// Board is a Kanban board for one kind.
type Board struct {
	Kind    document.Kind `json:"kind"`
	Columns []Column      `json:"columns"`
}

// Kanban groups the documents of kind by status, in lifecycle order.
func (s *Service) Kanban(ctx context.Context, kind document.Kind, companyID int64) (Board, error) {
	docs, _, err := s.store.List(ctx, document.Filter{Kind: kind, CompanyID: companyID})
	if err != nil {
		return Board{}, fmt.Errorf("query: kanban %s: %w", kind, err)
	}
	board := Board{Kind: kind}
	index := make(map[document.Status]int)
	for _, status := range workflow.Statuses(kind) {
		index[status] = len(board.Columns)
		board.Columns = append(board.Columns, Column{Status: status, Title: StatusTitle(status), Cards: []Card{}})
	}
	for _, d := range docs {
		i, ok := index[d.Status]
		if !ok {
			s.logger.Error("document in unknown status", slog.String("kind", string(d.Kind)), slog.String("code", d.Code), slog.String("status", string(d.Status)))
			continue
		}
		board.Columns[i].Cards = append(board.Columns[i].Cards, Card{
			ID:                    d.ID,
			Code:                  d.Code,
			CounterpartyCompanyID: d.CounterpartyCompanyID,
			TotalAmount:           d.TotalAmount,
			NeedByDate:            d.NeedByDate,
			UpdatedAt:             d.UpdatedAt,
			Version:               d.Version,
		})
	}
	return board, nil
}

var titleCaser = cases.Title(language.English)

// StatusTitle renders a status enum such as PENDING_CONFIRM as "Pending Confirm".
func StatusTitle(status document.Status) string {
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(string(status)), "_", " "))
}

// KindSummary aggregates the documents of one kind.
type KindSummary struct {
	Kind      document.Kind           `json:"kind"`
	Counts    map[document.Status]int `json:"counts"`
	Open      int                     `json:"open"`
	OpenValue decimal.Decimal         `json:"open_value"`
}

// Dashboard is the cached overview of one company.
type Dashboard struct {
	CompanyID         int64              `json:"company_id"`
	GeneratedAt       time.Time          `json:"generated_at"`
	Kinds             []KindSummary      `json:"kinds"`
	LowStock          []inventory.Record `json:"low_stock"`
	LowStockThreshold decimal.Decimal    `json:"low_stock_threshold"`
}

// Dashboard returns the company overview from cache, building it once when
// several requests miss at the same time.
func (s *Service) Dashboard(ctx context.Context, companyID int64) (Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return Dashboard{}, err
	}
	key, err := s.cache.BuildKey(ctx, "orderflow", "dashboard", strconv.FormatInt(companyID, 10))
	if err != nil {
		s.logger.Warn("dashboard cache key", slog.Any("error", err))
		return s.buildDashboard(ctx, companyID)
	}
	ch := s.builds.DoChan(key, func() (any, error) {
		var out Dashboard
		err := s.cache.FetchJSON(context.WithoutCancel(ctx), key, &out, func(ctx context.Context) (any, error) {
			return s.buildDashboard(ctx, companyID)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Dashboard{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Dashboard{}, res.Err
		}
		return res.Val.(Dashboard), nil
	}
}

func (s *Service) buildDashboard(ctx context.Context, companyID int64) (Dashboard, error) {
	kinds := document.Kinds()
	summaries := make([]KindSummary, len(kinds))
	var lowStock []inventory.Record

	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			docs, _, err := s.store.List(ctx, document.Filter{Kind: kind, CompanyID: companyID})
			if err != nil {
				return fmt.Errorf("query: dashboard %s: %w", kind, err)
			}
			summary := KindSummary{Kind: kind, Counts: make(map[document.Status]int), OpenValue: decimal.Zero}
			for _, d := range docs {
				summary.Counts[d.Status]++
				if !d.Status.Terminal() {
					summary.Open++
					summary.OpenValue = summary.OpenValue.Add(d.TotalAmount)
				}
			}
			summaries[i] = summary
			return nil
		})
	}
	if s.inventory != nil && s.threshold.IsPositive() {
		g.Go(func() error {
			records, err := s.inventory.GetInventory(ctx, inventory.RecordFilter{LowStockAt: s.threshold})
			if err != nil {
				return fmt.Errorf("query: dashboard low stock: %w", err)
			}
			lowStock = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	if lowStock == nil {
		lowStock = []inventory.Record{}
	}
	return Dashboard{
		CompanyID:         companyID,
		GeneratedAt:       s.clock(),
		Kinds:             summaries,
		LowStock:          lowStock,
		LowStockThreshold: s.threshold,
	}, nil
}

// Invalidate bumps the cache version.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("query cache bump", slog.Any("error", err))
	}
}

// Observe implements workflow.Observer. Every successful transition or
// creation invalidates the cached projections.
func (s *Service) Observe(ctx context.Context, ev workflow.Event) {
	if ev.Err != nil {
		return
	}
	s.Invalidate(context.WithoutCancel(ctx))
}

// OnInventoryChange is the ledger hook that invalidates cached projections.
func (s *Service) OnInventoryChange(ctx context.Context, _ []inventory.Movement) {
	s.Invalidate(context.WithoutCancel(ctx))
}
