package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
	"github.com/notifyhub/push-worker/internal/worker"
)

func seedTasks(t *testing.T, store *repository.MockStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Create(context.Background(), leasedTask(id, "u-"+id)))
	}
}

func TestFinalize_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	seedTasks(t, store, "t1")

	var finalized []domain.ResultSummary
	f := worker.NewFinalizer(store, 100, zap.NewNop(), worker.MetricHooks{
		OnFinalized: func(s domain.ResultSummary) { finalized = append(finalized, s) },
	})

	ok, err := f.Finalize(ctx, "t1", domain.TaskStat{Total: 2, Success: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Finalize(ctx, "t1", domain.TaskStat{Total: 2, Fail: 2, LastError: "late"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.FinalizeImmediate(ctx, "t1", domain.SummaryNoRecipients, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := store.GetByID(ctx, "t1")
	assert.Equal(t, domain.StatusDone, got.Status)
	assert.Equal(t, domain.SummarySuccess, got.Result.Summary)
	assert.Equal(t, 2, got.Result.SuccessCount)
	assert.Nil(t, got.Result.LastError)
	assert.Equal(t, 1, store.FinalizeWrites["t1"])
	assert.Equal(t, []domain.ResultSummary{domain.SummarySuccess}, finalized)
}

func TestFinalize_ImmediateThenStatsKeepsImmediate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	seedTasks(t, store, "t1")
	f := worker.NewFinalizer(store, 100, zap.NewNop(), worker.MetricHooks{})

	_, err := f.FinalizeImmediate(ctx, "t1", domain.SummaryNoRecipients, "")
	require.NoError(t, err)
	_, err = f.Finalize(ctx, "t1", domain.TaskStat{Total: 1, Fail: 1})
	require.NoError(t, err)

	got, _ := store.GetByID(ctx, "t1")
	assert.Equal(t, domain.SummaryNoRecipients, got.Result.Summary)
	assert.Equal(t, domain.StatusDone, got.Status)
}

func TestCommit_ChunksAndCountsApplied(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	seedTasks(t, store, "t1", "t2", "t3", "t4", "t5")
	f := worker.NewFinalizer(store, 2, zap.NewNop(), worker.MetricHooks{})

	_, err := f.FinalizeImmediate(ctx, "t3", domain.SummaryNoRecipients, "")
	require.NoError(t, err)

	var fs []domain.Finalization
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		fs = append(fs, domain.FinalizationFromStat(id, domain.TaskStat{Total: 1, Success: 1}))
	}
	assert.Equal(t, 4, f.Commit(ctx, fs))

	t3, _ := store.GetByID(ctx, "t3")
	assert.Equal(t, domain.SummaryNoRecipients, t3.Result.Summary)
	for _, id := range []string{"t1", "t2", "t4", "t5"} {
		got, _ := store.GetByID(ctx, id)
		assert.Equal(t, domain.SummarySuccess, got.Result.Summary, id)
	}
}

func TestCommit_BatchFailureFallsBackPerTask(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	seedTasks(t, store, "t1", "t2", "t3")
	store.FinalizeErrFor["t2"] = errors.New("row too large")

	f := worker.NewFinalizer(store, 100, zap.NewNop(), worker.MetricHooks{})
	fs := []domain.Finalization{
		domain.FinalizationFromStat("t1", domain.TaskStat{Total: 1, Success: 1}),
		domain.FinalizationFromStat("t2", domain.TaskStat{Total: 1, Success: 1}),
		domain.FinalizationFromStat("t3", domain.TaskStat{Total: 1, Fail: 1, LastError: "x"}),
	}
	assert.Equal(t, 2, f.Commit(ctx, fs))

	t1, _ := store.GetByID(ctx, "t1")
	t2, _ := store.GetByID(ctx, "t2")
	t3, _ := store.GetByID(ctx, "t3")
	assert.Equal(t, domain.StatusDone, t1.Status)
	assert.Equal(t, domain.StatusQueued, t2.Status)
	assert.Nil(t, t2.FinalizedAt)
	assert.Equal(t, domain.StatusFailed, t3.Status)
}

func TestCommit_ClearsLease(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	task := leasedTask("t1", "u1")
	until := time.Now().Add(time.Minute)
	owner := "w1"
	task.LeaseUntil = &until
	task.LeaseOwner = &owner
	store.SetTask(task)

	f := worker.NewFinalizer(store, 100, zap.NewNop(), worker.MetricHooks{})
	f.Commit(ctx, []domain.Finalization{domain.FinalizationFromStat("t1", domain.TaskStat{Total: 1, Success: 1})})

	got, _ := store.GetByID(ctx, "t1")
	assert.Nil(t, got.LeaseUntil)
	assert.Nil(t, got.LeaseOwner)
	assert.NotNil(t, got.FinalizedAt)
}
