package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Timer fires a full drain of every shard on a cron schedule. A firing that
// would overlap the previous one is skipped.
type Timer struct {
	schedule   string
	cron       *cron.Cron
	drainer    *Drainer
	shardCount int
	budget     time.Duration
	logger     *zap.Logger
}

func NewTimer(schedule string, drainer *Drainer, shardCount int, budget time.Duration, logger *zap.Logger) (*Timer, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	cronLog := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLog),
		cron.SkipIfStillRunning(cronLog),
	))
	return &Timer{
		schedule:   schedule,
		cron:       c,
		drainer:    drainer,
		shardCount: shardCount,
		budget:     budget,
		logger:     logger,
	}, nil
}

// Start registers the job and starts the scheduler. ctx is handed to every
// firing; cancelling it stops in-flight drains between rounds.
func (t *Timer) Start(ctx context.Context) error {
	if _, err := t.cron.AddFunc(t.schedule, func() { t.Fire(ctx) }); err != nil {
		return err
	}
	t.cron.Start()
	t.logger.Info("timer trigger started",
		zap.String("schedule", t.schedule),
		zap.Int("shards", t.shardCount),
		zap.Duration("budget", t.budget),
	)
	return nil
}

// Fire runs one timer invocation synchronously.
func (t *Timer) Fire(ctx context.Context) {
	res, err := t.drainer.DrainAll(ctx, t.shardCount, t.budget)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Error("timer drain failed", zap.Error(err))
		return
	}
	t.logger.Info("timer drain complete",
		zap.Int("claimed", res.Claimed),
		zap.Int("finalized", res.Finalized),
		zap.Strings("skipped", res.Skipped),
		zap.Bool("exhausted", res.Exhausted),
	)
}

// Stop halts the scheduler and waits for a running firing to return.
func (t *Timer) Stop() {
	<-t.cron.Stop().Done()
	t.logger.Info("timer trigger stopped")
}
