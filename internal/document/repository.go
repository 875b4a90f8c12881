package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Repository persists documents in PostgreSQL. It joins the transaction
// carried by the context when one is present.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const documentColumns = `id, kind, code, company_id, counterparty_company_id, status, version, created_by,
	created_at, updated_at, total_amount::text, warehouse_id, dest_warehouse_id, source_kind, source_code,
	need_by_date, expired_at, note, lines, reservations, manufacturing, delivery`

// Create assigns identity, code and version 1.
func (r *Repository) Create(ctx context.Context, doc Document) (Document, error) {
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	q := db.Conn(ctx, r.pool)
	var id int64
	if err := q.QueryRow(ctx, `SELECT nextval('documents_id_seq')`).Scan(&id); err != nil {
		return Document{}, fmt.Errorf("document: next id: %w", err)
	}
	now := time.Now().UTC()
	doc = doc.Clone()
	doc.ID = id
	doc.Code = doc.Kind.FormatCode(id)
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	payload, err := encodePayload(doc)
	if err != nil {
		return Document{}, err
	}
	_, err = q.Exec(ctx, `INSERT INTO documents (id, kind, code, company_id, counterparty_company_id, status, version, created_by,
		created_at, updated_at, total_amount, warehouse_id, dest_warehouse_id, source_kind, source_code,
		need_by_date, expired_at, note, lines, reservations, manufacturing, delivery)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		doc.ID, doc.Kind, doc.Code, doc.CompanyID, doc.CounterpartyCompanyID, doc.Status, doc.Version, doc.CreatedBy,
		doc.CreatedAt, doc.UpdatedAt, doc.TotalAmount.String(), doc.WarehouseID, doc.DestWarehouseID, doc.SourceKind, doc.SourceCode,
		doc.NeedByDate, doc.ExpiredAt, doc.Note, payload.lines, payload.reservations, payload.manufacturing, payload.delivery)
	if err != nil {
		return Document{}, fmt.Errorf("document: insert %s: %w", doc.Ref(), db.MapError(err))
	}
	return doc, nil
}

// Get loads one document.
func (r *Repository) Get(ctx context.Context, kind Kind, id int64) (Document, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND kind=$2`, id, kind)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, notFound(kind, id)
	}
	return doc, err
}

// GetByCode loads one document by its code.
func (r *Repository) GetByCode(ctx context.Context, kind Kind, code string) (Document, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE kind=$1 AND code=$2`, kind, code)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, notFound(kind, code)
	}
	return doc, err
}

// FindBySource lists children of kind created from the given source.
func (r *Repository) FindBySource(ctx context.Context, kind, sourceKind Kind, sourceCode string) ([]Document, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE kind=$1 AND source_kind=$2 AND source_code=$3 ORDER BY id`, kind, sourceKind, sourceCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// Update compares the stored version, applies mutate and writes the result.
func (r *Repository) Update(ctx context.Context, kind Kind, id, expectedVersion int64, mutate Mutator) (Document, error) {
	current, err := r.Get(ctx, kind, id)
	if err != nil {
		return Document{}, err
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
	next.UpdatedAt = time.Now().UTC()
	payload, err := encodePayload(next)
	if err != nil {
		return Document{}, err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE documents SET
		counterparty_company_id=$3, status=$4, version=$5, updated_at=$6, total_amount=$7::numeric,
		warehouse_id=$8, dest_warehouse_id=$9, source_kind=$10, source_code=$11, need_by_date=$12,
		expired_at=$13, note=$14, lines=$15, reservations=$16, manufacturing=$17, delivery=$18
		WHERE id=$1 AND kind=$2 AND version=$19`,
		next.ID, next.Kind, next.CounterpartyCompanyID, next.Status, next.Version, next.UpdatedAt, next.TotalAmount.String(),
		next.WarehouseID, next.DestWarehouseID, next.SourceKind, next.SourceCode, next.NeedByDate,
		next.ExpiredAt, next.Note, payload.lines, payload.reservations, payload.manufacturing, payload.delivery,
		current.Version)
	if err != nil {
		return Document{}, fmt.Errorf("document: update %s: %w", current.Ref(), db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return Document{}, conflict(current, current.Version)
	}
	return next, nil
}

// List returns matching documents newest first plus the total match count.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Document, int, error) {
	where, args := buildWhere(filter)
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + documentColumns + ` FROM documents` + where + ` ORDER BY id DESC`
	if filter.Page > 0 || filter.PerPage > 0 {
		page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
		args = append(args, perPage, (page-1)*perPage)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	docs, err := collect(rows)
	return docs, total, err
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY(?)", statuses)
	}
	if f.CompanyID > 0 {
		add("company_id = ?", f.CompanyID)
	}
	if f.CounterpartyID > 0 {
		add("counterparty_company_id = ?", f.CounterpartyID)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= ?", f.To)
	}
	if !f.NeedByBefore.IsZero() {
		add("need_by_date < ?", f.NeedByBefore)
	}
	if f.NotExpired {
		conds = append(conds, "expired_at IS NULL")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type encodedPayload struct {
	lines         []byte
	reservations  []byte
	manufacturing []byte
	delivery      []byte
}

func encodePayload(doc Document) (encodedPayload, error) {
	var out encodedPayload
	var err error
	lines := doc.Lines
	if lines == nil {
		lines = []LineItem{}
	}
	if out.lines, err = json.Marshal(lines); err != nil {
		return out, err
	}
	reservations := doc.Reservations
	if reservations == nil {
		reservations = []Reservation{}
	}
	if out.reservations, err = json.Marshal(reservations); err != nil {
		return out, err
	}
	if doc.Manufacturing != nil {
		if out.manufacturing, err = json.Marshal(doc.Manufacturing); err != nil {
			return out, err
		}
	}
	if doc.Delivery != nil {
		if out.delivery, err = json.Marshal(doc.Delivery); err != nil {
			return out, err
		}
	}
	return out, nil
}

func collect(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var total string
	var lines, reservations, manufacturing, delivery []byte
	err := row.Scan(&doc.ID, &doc.Kind, &doc.Code, &doc.CompanyID, &doc.CounterpartyCompanyID, &doc.Status, &doc.Version, &doc.CreatedBy,
		&doc.CreatedAt, &doc.UpdatedAt, &total, &doc.WarehouseID, &doc.DestWarehouseID, &doc.SourceKind, &doc.SourceCode,
		&doc.NeedByDate, &doc.ExpiredAt, &doc.Note, &lines, &reservations, &manufacturing, &delivery)
	if err != nil {
		return Document{}, err
	}
	if doc.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Document{}, fmt.Errorf("document: parse total: %w", err)
	}
	if err := json.Unmarshal(lines, &doc.Lines); err != nil {
		return Document{}, fmt.Errorf("document: decode lines: %w", err)
	}
	if len(reservations) > 0 {
		if err := json.Unmarshal(reservations, &doc.Reservations); err != nil {
			return Document{}, fmt.Errorf("document: decode reservations: %w", err)
		}
	}
	if len(manufacturing) > 0 {
		doc.Manufacturing = &Manufacturing{}
		if err := json.Unmarshal(manufacturing, doc.Manufacturing); err != nil {
			return Document{}, fmt.Errorf("document: decode manufacturing: %w", err)
		}
	}
	if len(delivery) > 0 {
		doc.Delivery = &Delivery{}
		if err := json.Unmarshal(delivery, doc.Delivery); err != nil {
			return Document{}, fmt.Errorf("document: decode delivery: %w", err)
		}
	}
	return doc, nil
}
