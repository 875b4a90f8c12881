package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ID        uuid.UUID
	CompanyID int64
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// AuditLogger writes records into audit_logs. Without a pool the records go
// to the structured log instead, which is what the memory backend uses.
type AuditLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{pool: pool, logger: logger}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	if l.pool == nil {
		l.logger.Info("audit",
			slog.String("audit_id", log.ID.String()),
			slog.Int64("company_id", log.CompanyID),
			slog.Int64("actor_id", log.ActorID),
			slog.String("action", log.Action),
			slog.String("entity", log.Entity),
			slog.String("entity_id", log.EntityID),
			slog.Any("meta", log.Meta))
		return nil
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (id, company_id, actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.CompanyID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}
