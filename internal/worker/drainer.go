package worker

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/lease"
	"github.com/notifyhub/push-worker/internal/repository"
)

// Options sizes a drain. Zero values fall back to safe minimums.
type Options struct {
	PageSize          int
	StaleAfter        time.Duration
	DeleteConcurrency int
	MaxAttempts       int // 0 = unlimited
}

// Result summarises one drain invocation.
type Result struct {
	Rounds    int
	Claimed   int
	Messages  int
	Finalized int
	Recovered int
	// Exhausted is set when the budget ran out with work possibly left.
	Exhausted bool
	// Skipped lists shard scopes whose run lock was held (DrainAll only).
	Skipped []string
}

func (r *Result) add(o Result) {
	r.Rounds += o.Rounds
	r.Claimed += o.Claimed
	r.Messages += o.Messages
	r.Finalized += o.Finalized
	r.Recovered += o.Recovered
	r.Exhausted = r.Exhausted || o.Exhausted
}

// Drainer runs the per-shard drain cycle: take the run lock, then loop
// rounds of recover, query, claim, expand, dispatch, clean up and finalize
// until the queue is empty or the budget is spent.
type Drainer struct {
	tasks      repository.TaskRepository
	endpoints  repository.EndpointRepository
	runLock    *lease.RunLock
	leases     *lease.Manager
	expander   *Expander
	dispatcher *Dispatcher
	finalizer  *Finalizer
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
	hooks      MetricHooks
}

func NewDrainer(
	tasks repository.TaskRepository,
	endpoints repository.EndpointRepository,
	runLock *lease.RunLock,
	leases *lease.Manager,
	expander *Expander,
	dispatcher *Dispatcher,
	finalizer *Finalizer,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *Drainer {
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if opts.DeleteConcurrency < 1 {
		opts.DeleteConcurrency = 1
	}
	return &Drainer{
		tasks:      tasks,
		endpoints:  endpoints,
		runLock:    runLock,
		leases:     leases,
		expander:   expander,
		dispatcher: dispatcher,
		finalizer:  finalizer,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
		hooks:      hooks.withDefaults(),
	}
}

// WithClock overrides the time source used for due queries and the budget.
func (d *Drainer) WithClock(now func() time.Time) *Drainer {
	d.now = now
	return d
}

// Drain processes one shard, or every shard when shard is nil, under the
// matching run lock. It returns domain.ErrLockBusy when another worker
// holds the lock. The budget and ctx are checked between rounds only; a
// round that has claimed tasks finishes even if either runs out.
func (d *Drainer) Drain(ctx context.Context, shard *int, budget time.Duration) (Result, error) {
	scope := lease.ScopeKey(shard)
	log := d.logger.With(zap.String("scope", scope))

	ok, err := d.runLock.TryAcquire(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		d.hooks.OnLockBusy(scope)
		log.Info("run lock held elsewhere, skipping")
		return Result{}, domain.ErrLockBusy
	}
	defer d.runLock.Release(context.WithoutCancel(ctx), scope)

	deadline := d.now().Add(budget)
	res, err := d.drainLocked(ctx, shard, deadline, log)
	log.Info("drain finished",
		zap.Int("rounds", res.Rounds),
		zap.Int("claimed", res.Claimed),
		zap.Int("messages", res.Messages),
		zap.Int("finalized", res.Finalized),
		zap.Bool("exhausted", res.Exhausted),
	)
	return res, err
}

// DrainAll drains shards 0..shardCount-1 one after another, each under its
// own run lock, sharing one budget. Busy shards are skipped.
func (d *Drainer) DrainAll(ctx context.Context, shardCount int, budget time.Duration) (Result, error) {
	var total Result
	deadline := d.now().Add(budget)

	for s := 0; s < shardCount; s++ {
		remaining := deadline.Sub(d.now())
		if remaining <= 0 {
			total.Exhausted = true
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}

		shard := s
		res, err := d.Drain(ctx, &shard, remaining)
		if errors.Is(err, domain.ErrLockBusy) {
			total.Skipped = append(total.Skipped, lease.ScopeKey(&shard))
			continue
		}
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *Drainer) drainLocked(ctx context.Context, shard *int, deadline time.Time, log *zap.Logger) (Result, error) {
	var res Result
	for {
		if !d.now().Before(deadline) {
			res.Exhausted = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := time.Now()
		claimed, err := d.round(ctx, shard, &res, log)
		if err != nil {
			return res, err
		}
		if claimed == 0 {
			return res, nil
		}
		res.Rounds++
		d.hooks.OnRound(time.Since(start))
	}
}

// round runs one pass and returns how many tasks it claimed.
func (d *Drainer) round(ctx context.Context, shard *int, res *Result, log *zap.Logger) (int, error) {
	if d.opts.StaleAfter > 0 {
		n, err := d.leases.RecoverStale(ctx, shard, d.opts.StaleAfter)
		if err != nil {
			log.Warn("stale recovery failed", zap.Error(err))
		} else if n > 0 {
			res.Recovered += n
			d.hooks.OnRecovered(n)
		}
	}

	due, err := d.tasks.FindDue(ctx, repository.DueFilter{
		Shard: shard,
		Now:   d.now().UTC(),
		Limit: d.opts.PageSize,
	})
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	// keep claim order stable even if the store returns ties unordered
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })

	var claimed []*domain.Task
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.leases.Claim(ctx, t)
		if err != nil {
			log.Warn("claim failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			claimed = append(claimed, t)
		}
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	res.Claimed += len(claimed)
	d.hooks.OnClaimed(len(claimed))

	// Claimed tasks are carried through to finalize even if ctx is cancelled
	// now; cancellation only stops the next round from starting.
	ctx = context.WithoutCancel(ctx)

	var immediate []domain.Finalization
	eligible := claimed[:0:0]
	for _, t := range claimed {
		if d.opts.MaxAttempts > 0 && t.Attempt > d.opts.MaxAttempts {
			log.Warn("task exceeded max attempts",
				zap.String("task_id", t.ID), zap.Int("attempt", t.Attempt))
			immediate = append(immediate, domain.ImmediateFinalization(t.ID, domain.SummaryMaxAttempts, ""))
			continue
		}
		eligible = append(eligible, t)
	}

	plan := d.expander.Expand(ctx, eligible)
	immediate = append(immediate, plan.Immediate...)
	res.Finalized += d.finalizer.Commit(ctx, immediate)

	items := plan.Messages()
	res.Messages += len(items)

	cleanup := NewCleanupQueue(d.endpoints, log, d.hooks.OnEndpointDelete)
	stats := d.dispatcher.Dispatch(ctx, items, cleanup)
	cleanup.Flush(ctx, d.opts.DeleteConcurrency)

	finals := make([]domain.Finalization, 0, len(plan.Order))
	for _, id := range plan.Order {
		s, ok := stats[id]
		if !ok {
			continue
		}
		finals = append(finals, domain.FinalizationFromStat(id, *s))
	}
	res.Finalized += d.finalizer.Commit(ctx, finals)

	log.Debug("round complete",
		zap.Int("claimed", len(claimed)),
		zap.Int("immediate", len(immediate)),
		zap.Int("messages", len(items)),
	)
	return len(claimed), nil
}
