package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/app"
	"github.com/odyssey-erp/orderflow/jobs"
)

type stubMigrator struct {
	up, status int
	err        error
}

func (s *stubMigrator) Up(context.Context, string) error {
	s.up++
	return s.err
}

func (s *stubMigrator) Status(context.Context, string) error {
	s.status++
	return s.err
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := run(context.Background(), &app.Config{}, nil, stdout, stderr, &stubMigrator{})
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "usage:")

	code = run(context.Background(), &app.Config{}, []string{"deploy"}, stdout, stderr, &stubMigrator{})
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), `unknown command "deploy"`)
}

func TestMigrateCommand(t *testing.T) {
	ctx := context.Background()
	cfg := &app.Config{PGDSN: "postgres://orderflow@localhost/orderflow"}
	m := &stubMigrator{}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	require.Equal(t, 0, run(ctx, cfg, []string{"migrate"}, stdout, stderr, m))
	require.Equal(t, 0, run(ctx, cfg, []string{"migrate", "status"}, stdout, stderr, m))
	require.Equal(t, 1, m.up)
	require.Equal(t, 1, m.status)
	require.Contains(t, stdout.String(), "migrate up: ok")

	require.Equal(t, 2, run(ctx, cfg, []string{"migrate", "down"}, stdout, stderr, m))

	m.err = errors.New("connection refused")
	require.Equal(t, 1, run(ctx, cfg, []string{"migrate"}, stdout, stderr, m))
	require.Contains(t, stderr.String(), "connection refused")

	require.Equal(t, 1, run(ctx, &app.Config{}, []string{"migrate"}, stdout, stderr, m))
}

func TestJobsBuildTask(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:0", 48*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	task, err := c.BuildTask(jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	require.JSONEq(t, `{"retention_hours":48}`, string(task.Payload()))

	task, err = c.BuildTask(jobs.TaskRFQExpire)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskRFQExpire, task.Type())

	_, err = c.Trigger(context.Background(), "mail:send")
	require.ErrorContains(t, err, "unsupported job")

	_, err = NewJobsCLI("", time.Hour)
	require.Error(t, err)
}
