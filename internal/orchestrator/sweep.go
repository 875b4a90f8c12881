package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
	"github.com/odyssey-erp/orderflow/internal/workflow"
)

const sweepBatch = 200

// ExpireOverdueRFQs moves every open RFQ whose deadline passed before now to
// OverdueQuote. RFQs that expired once are never expired again, so running the
// sweep twice expires nothing the second time.
func (o *Orchestrator) ExpireOverdueRFQs(ctx context.Context, now time.Time) (int, error) {
	release, err := o.locker.Acquire(ctx, shared.FlowLockKey(FlowExpireOverdueRFQs, string(document.KindRFQ), 0))
	if err != nil {
		return 0, err
	}
	defer release()

	start := time.Now()
	filter := document.Filter{
		Kind:         document.KindRFQ,
		Statuses:     []document.Status{document.StatusNotQuoted, document.StatusQuoted},
		NeedByBefore: now,
		NotExpired:   true,
		Page:         1,
		PerPage:      sweepBatch,
	}
	seen := make(map[int64]struct{})
	expired := 0
	for {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		batch, _, err := o.store.List(ctx, filter)
		if err != nil {
			return expired, err
		}
		progressed := false
		for _, rfq := range batch {
			if _, ok := seen[rfq.ID]; ok {
				continue
			}
			seen[rfq.ID] = struct{}{}
			progressed = true
			_, err := o.engine.Apply(ctx, document.KindRFQ, rfq.ID, workflow.ActionExpireDeadline, workflow.Input{
				ExpectedVersion: rfq.Version,
				Now:             now,
			})
			switch {
			case err == nil:
				expired++
			case errors.Is(err, shared.ErrConcurrentModification), errors.Is(err, shared.ErrIllegalTransition):
				// changed underneath us; the next sweep sees its new state
			default:
				return expired, err
			}
		}
		if !progressed || len(batch) < sweepBatch {
			break
		}
	}
	if o.metrics != nil {
		o.metrics.ObserveFlow(FlowExpireOverdueRFQs, "ok", time.Since(start))
	}
	if expired > 0 {
		o.logger.Info("overdue rfqs expired", slog.Int("count", expired), slog.Time("now", now))
	}
	return expired, nil
}
