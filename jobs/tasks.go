package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRFQExpire moves RFQs past their need-by date to OVERDUE_QUOTE.
	TaskRFQExpire = "workflow:rfq_expire"
	// TaskIdempotencyCleanup purges stale idempotency keys.
	TaskIdempotencyCleanup = "platform:idempotency_cleanup"
)

// RFQExpirePayload describes one sweep. AsOf defaults to the time the task runs.
type RFQExpirePayload struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// IdempotencyCleanupPayload controls how old a key must be before removal.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewRFQExpireTask constructs the sweep task.
func NewRFQExpireTask(asOf *time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(RFQExpirePayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRFQExpire, data), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
