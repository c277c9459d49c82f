package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
)

// Finalizer commits terminal state. Every write is guarded by the store so
// a task already finalized is left untouched.
type Finalizer struct {
	tasks     repository.TaskRepository
	batchSize int
	logger    *zap.Logger
	hooks     MetricHooks
}

func NewFinalizer(tasks repository.TaskRepository, batchSize int, logger *zap.Logger, hooks MetricHooks) *Finalizer {
	return &Finalizer{
		tasks:     tasks,
		batchSize: max(batchSize, 1),
		logger:    logger,
		hooks:     hooks.withDefaults(),
	}
}

// Finalize writes the stat-derived terminal state for one task.
func (f *Finalizer) Finalize(ctx context.Context, taskID string, stat domain.TaskStat) (bool, error) {
	return f.apply(ctx, domain.FinalizationFromStat(taskID, stat))
}

// FinalizeImmediate finalizes a task that never reached dispatch.
func (f *Finalizer) FinalizeImmediate(ctx context.Context, taskID string, summary domain.ResultSummary, lastErr string) (bool, error) {
	return f.apply(ctx, domain.ImmediateFinalization(taskID, summary, lastErr))
}

func (f *Finalizer) apply(ctx context.Context, fin domain.Finalization) (bool, error) {
	ok, err := f.tasks.Finalize(ctx, fin)
	if err != nil {
		return false, err
	}
	if ok {
		f.hooks.OnFinalized(fin.Result.Summary)
	}
	return ok, nil
}

// Commit writes fs in transactions of at most batchSize entries and returns
// how many writes were applied. A chunk whose transaction fails is retried
// entry by entry so one bad write cannot sink its neighbours; per-entry
// failures are logged and swallowed.
func (f *Finalizer) Commit(ctx context.Context, fs []domain.Finalization) int {
	applied := 0
	for start := 0; start < len(fs); start += f.batchSize {
		chunk := fs[start:min(start+f.batchSize, len(fs))]

		ids, err := f.tasks.FinalizeBatch(ctx, chunk)
		if err == nil {
			applied += len(ids)
			f.observe(chunk, ids)
			continue
		}

		f.logger.Warn("finalize batch failed, falling back to single writes",
			zap.Int("size", len(chunk)), zap.Error(err))
		for _, fin := range chunk {
			ok, err := f.apply(ctx, fin)
			if err != nil {
				f.logger.Warn("finalize failed", zap.String("task_id", fin.TaskID), zap.Error(err))
				continue
			}
			if ok {
				applied++
			}
		}
	}
	return applied
}

func (f *Finalizer) observe(chunk []domain.Finalization, applied []string) {
	if len(applied) == 0 {
		return
	}
	set := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		set[id] = struct{}{}
	}
	for _, fin := range chunk {
		if _, ok := set[fin.TaskID]; ok {
			f.hooks.OnFinalized(fin.Result.Summary)
		}
	}
}
