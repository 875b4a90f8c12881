package workflow

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditObserver writes one audit entry per successful transition or creation.
type AuditObserver struct {
	recorder AuditRecorder
	logger   *slog.Logger
}

// NewAuditObserver constructs the observer.
func NewAuditObserver(recorder AuditRecorder, logger *slog.Logger) *AuditObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditObserver{recorder: recorder, logger: logger}
}

// Observe implements Observer.
func (o *AuditObserver) Observe(ctx context.Context, ev Event) {
	if ev.Err != nil || o.recorder == nil {
		return
	}
	doc := ev.Document
	meta := map[string]any{
		"code":    doc.Code,
		"to":      string(doc.Status),
		"version": doc.Version,
	}
	if ev.From != "" {
		meta["from"] = string(ev.From)
	}
	if doc.SourceCode != "" {
		meta["source"] = string(doc.SourceKind) + ":" + doc.SourceCode
	}
	entry := shared.AuditLog{
		CompanyID: ev.Caller.CompanyID,
		ActorID:   ev.Caller.EmployeeID,
		Action:    string(ev.Action),
		Entity:    string(doc.Kind),
		EntityID:  strconv.FormatInt(doc.ID, 10),
		Meta:      meta,
	}
	if entry.CompanyID == 0 {
		entry.CompanyID = doc.CompanyID
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Warn("audit transition",
			slog.String("kind", string(doc.Kind)),
			slog.String("code", doc.Code),
			slog.Any("error", err))
	}
}
