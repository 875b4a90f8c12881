package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/orderflow/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper expires RFQs whose need-by date passed.
type Sweeper interface {
	ExpireOverdueRFQs(ctx context.Context, now time.Time) (int, error)
}

// RFQExpireJob runs the deadline sweep on schedule.
type RFQExpireJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRFQExpireJob wires dependencies for the sweep handler.
func NewRFQExpireJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *RFQExpireJob {
	return &RFQExpireJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskRFQExpire tasks.
func (j *RFQExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("rfq expire: handler not configured")
	}
	var payload RFQExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskRFQExpire)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	if payload.AsOf != nil {
		now = payload.AsOf.UTC()
	}
	logger := j.logger().With(slog.Time("as_of", now))

	// A sweep that outlives its schedule slot would overlap the next one.
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	expired, err := j.Sweeper.ExpireOverdueRFQs(sweepCtx, now)
	if err != nil {
		resultErr = err
		logger.Error("rfq sweep", slog.Int("expired", expired), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddProcessed(TaskRFQExpire, expired)
	logger.Info("completed rfq sweep", slog.Int("expired", expired))
	return resultErr
}

func (j *RFQExpireJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRFQExpire))
	}
	return slog.Default().With(slog.String("job", TaskRFQExpire))
}

func (j *RFQExpireJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RFQExpireJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
