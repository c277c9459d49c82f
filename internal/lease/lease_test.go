package lease_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/lease"
	"github.com/notifyhub/push-worker/internal/repository"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "all", lease.ScopeKey(nil))
	s := 7
	assert.Equal(t, "7", lease.ScopeKey(&s))
}

func TestRunLock_SecondAcquireBeforeExpiryFails(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	a := lease.NewRunLock(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	b := lease.NewRunLock(store, "worker-b", 2*time.Minute, zap.NewNop()).WithClock(clk.now)

	ok, err := a.TryAcquire(ctx, "3")
	require.NoError(t, err)
	require.True(t, ok)

	clk.advance(time.Minute)
	ok, err = b.TryAcquire(ctx, "3")
	require.NoError(t, err)
	assert.False(t, ok, "lock held by worker-a must not be taken before expiry")

	// other scopes are independent
	ok, err = b.TryAcquire(ctx, "4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLock_ReacquireAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	a := lease.NewRunLock(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	b := lease.NewRunLock(store, "worker-b", 2*time.Minute, zap.NewNop()).WithClock(clk.now)

	ok, _ := a.TryAcquire(ctx, "all")
	require.True(t, ok)

	clk.advance(2*time.Minute + time.Second)
	ok, err := b.TryAcquire(ctx, "all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "worker-b", store.LockOwner("pushWorker_all", clk.now()))
}

func TestRunLock_ReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	a := lease.NewRunLock(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	b := lease.NewRunLock(store, "worker-b", 2*time.Minute, zap.NewNop()).WithClock(clk.now)

	ok, _ := a.TryAcquire(ctx, "1")
	require.True(t, ok)

	b.Release(ctx, "1")
	assert.Equal(t, "worker-a", store.LockOwner("pushWorker_1", clk.now()))

	a.Release(ctx, "1")
	assert.Empty(t, store.LockOwner("pushWorker_1", clk.now()))
}

func TestRunLock_ReleaseErrorIsSwallowed(t *testing.T) {
	store := repository.NewMockStore()
	store.ReleaseErr = errors.New("store unavailable")

	l := lease.NewRunLock(store, "worker-a", time.Minute, zap.NewNop())
	assert.NotPanics(t, func() { l.Release(context.Background(), "all") })
}

func queuedTask(id string, at time.Time) *domain.Task {
	return &domain.Task{
		ID:          id,
		Status:      domain.StatusQueued,
		RecipientID: "user-" + id,
		ScheduledAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestManager_ClaimIsExclusiveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()
	require.NoError(t, store.Create(ctx, queuedTask("t1", clk.now().Add(-time.Minute))))

	a := lease.NewManager(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	b := lease.NewManager(store, "worker-b", 2*time.Minute, zap.NewNop()).WithClock(clk.now)

	task, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)

	ok, err := a.Claim(ctx, task)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, task.Attempt)
	require.NotNil(t, task.LeaseOwner)
	assert.Equal(t, "worker-a", *task.LeaseOwner)
	assert.Equal(t, clk.now().Add(2*time.Minute), *task.LeaseUntil)

	other, _ := store.GetByID(ctx, "t1")
	ok, err = b.Claim(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok, "unexpired lease must block a second claim")

	clk.advance(2*time.Minute + time.Second)
	ok, err = b.Claim(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, other.Attempt)
}

func TestManager_ClaimSkipsFinalizedTask(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()
	require.NoError(t, store.Create(ctx, queuedTask("t1", clk.now())))

	_, err := store.Finalize(ctx, domain.ImmediateFinalization("t1", domain.SummaryNoRecipients, ""))
	require.NoError(t, err)

	m := lease.NewManager(store, "worker-a", time.Minute, zap.NewNop()).WithClock(clk.now)
	task, _ := store.GetByID(ctx, "t1")
	ok, err := m.Claim(ctx, task)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_ClaimPropagatesStoreError(t *testing.T) {
	store := repository.NewMockStore()
	store.ClaimErr = errors.New("connection reset")

	m := lease.NewManager(store, "worker-a", time.Minute, zap.NewNop())
	ok, err := m.Claim(context.Background(), queuedTask("t1", time.Now()))
	require.Error(t, err)
	assert.False(t, ok)
}

func TestManager_RecoverStaleProcessingTask(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	leasedAt := clk.now().Add(-45 * time.Minute)
	until := leasedAt.Add(2 * time.Minute)
	owner := "old-revision"
	stale := queuedTask("t1", leasedAt.Add(-time.Minute))
	stale.Status = domain.StatusProcessing
	stale.LeasedAt = &leasedAt
	stale.LeaseUntil = &until
	stale.LeaseOwner = &owner
	store.SetTask(stale)

	m := lease.NewManager(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)

	n, err := m.RecoverStale(ctx, nil, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := store.GetByID(ctx, "t1")
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Nil(t, got.LeaseUntil)

	ok, err := m.Claim(ctx, got)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_RecoverStaleLeavesRecentWorkAlone(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	leasedAt := clk.now().Add(-5 * time.Minute)
	busy := queuedTask("t1", leasedAt)
	busy.Status = domain.StatusProcessing
	busy.LeasedAt = &leasedAt
	store.SetTask(busy)

	m := lease.NewManager(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	n, err := m.RecoverStale(ctx, nil, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := store.GetByID(ctx, "t1")
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestManager_RecoverStaleHonoursShard(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMockStore()
	clk := newClock()

	leasedAt := clk.now().Add(-time.Hour)
	for i, id := range []string{"s0", "s1"} {
		task := queuedTask(id, leasedAt)
		task.Shard = i
		task.Status = domain.StatusProcessing
		task.LeasedAt = &leasedAt
		store.SetTask(task)
	}

	m := lease.NewManager(store, "worker-a", 2*time.Minute, zap.NewNop()).WithClock(clk.now)
	shard := 1
	n, err := m.RecoverStale(ctx, &shard, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s0, _ := store.GetByID(ctx, "s0")
	s1, _ := store.GetByID(ctx, "s1")
	assert.Equal(t, domain.StatusProcessing, s0.Status)
	assert.Equal(t, domain.StatusQueued, s1.Status)
}

func TestRunLock_ConcurrentAcquireHasOneWinner(t *testing.T) {
	store := repository.NewMockStore()
	clk := newClock()

	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		l := lease.NewRunLock(store, fmt.Sprintf("worker-%d", i), 2*time.Minute, zap.NewNop()).WithClock(clk.now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryAcquire(context.Background(), "5")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.NotEmpty(t, store.LockOwner("pushWorker_5", clk.now()))
}

func TestManager_ConcurrentClaimHasOneWinner(t *testing.T) {
	store := repository.NewMockStore()
	clk := newClock()
	require.NoError(t, store.Create(context.Background(), queuedTask("t1", clk.now().Add(-time.Minute))))

	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		m := lease.NewManager(store, fmt.Sprintf("worker-%d", i), 2*time.Minute, zap.NewNop()).WithClock(clk.now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := m.Claim(context.Background(), queuedTask("t1", clk.now()))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	got, err := store.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempt)
}
