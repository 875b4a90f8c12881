package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/orderflow/internal/jobs"
)

type fakeSweeper struct {
	calls []time.Time
	count int
	err   error
}

func (f *fakeSweeper) ExpireOverdueRFQs(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	return f.count, f.err
}

type fakeCleaner struct {
	retention time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.removed, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRFQExpireJobUsesPayloadTime(t *testing.T) {
	sweeper := &fakeSweeper{count: 2}
	job := NewRFQExpireJob(sweeper, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task, err := NewRFQExpireTask(&asOf)
	require.NoError(t, err)
	require.Equal(t, TaskRFQExpire, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []time.Time{asOf}, sweeper.calls)

	fixed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRFQExpire, nil)))
	require.Equal(t, fixed, sweeper.calls[1])
}

func TestRFQExpireJobReportsFailure(t *testing.T) {
	boom := errors.New("redis down")
	job := NewRFQExpireJob(&fakeSweeper{err: boom}, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskRFQExpire, nil)), boom)

	err := job.Handle(context.Background(), asynq.NewTask(TaskRFQExpire, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *RFQExpireJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskRFQExpire, nil)))
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &fakeCleaner{removed: 4}
	job := NewIdempotencyCleanupJob(cleaner, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, defaultIdempotencyRetention, cleaner.retention)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewRFQExpireTask(nil)
	require.NoError(t, err)
	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Logger:    discardLogger(),
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, discardLogger()).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, QueueDefault, health.Queue)
	require.Zero(t, health.Pending)
}
