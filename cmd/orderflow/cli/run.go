// Package cli implements the operator subcommands of the orderflow binary.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/odyssey-erp/orderflow/internal/app"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
)

const usage = `usage:
  orderflow migrate up|status
  orderflow jobs trigger <workflow:rfq_expire|platform:idempotency_cleanup>
  orderflow jobs stats [-json]
  orderflow jobs scheduled [-n 10]
`

// migrator applies or reports schema migrations.
type migrator interface {
	Up(ctx context.Context, dsn string) error
	Status(ctx context.Context, dsn string) error
}

type gooseMigrator struct{}

func (gooseMigrator) Up(ctx context.Context, dsn string) error { return db.Migrate(ctx, dsn) }
func (gooseMigrator) Status(ctx context.Context, dsn string) error {
	return db.MigrationStatus(ctx, dsn)
}

// Run executes one subcommand and returns the process exit code.
func Run(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	return run(ctx, cfg, args, stdout, stderr, gooseMigrator{})
}

func run(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer, m migrator) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "migrate":
		return migrateCommand(ctx, cfg, args[1:], stdout, stderr, m)
	case "jobs":
		return jobsCommand(ctx, cfg, args[1:], stdout, stderr)
	}
	_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
	return 2
}

func migrateCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer, m migrator) int {
	if cfg == nil || cfg.PGDSN == "" {
		_, _ = fmt.Fprintln(stderr, "migrate: PG_DSN is required")
		return 1
	}
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	var err error
	switch action {
	case "up":
		err = m.Up(ctx, cfg.PGDSN)
	case "status":
		err = m.Status(ctx, cfg.PGDSN)
	default:
		_, _ = fmt.Fprintf(stderr, "migrate: unknown action %q\n%s", action, usage)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", action, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "migrate %s: ok\n", action)
	return 0
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	jobsCLI, err := NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, "jobs trigger: job name required")
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		fs := flag.NewFlagSet("jobs stats", flag.ContinueOnError)
		fs.SetOutput(stderr)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		if *asJSON {
			_ = json.NewEncoder(stdout).Encode(stats)
			return 0
		}
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		fs.SetOutput(stderr)
		size := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "jobs: unknown subcommand %q\n%s", args[0], usage)
	return 2
}
