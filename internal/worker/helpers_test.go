package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/lease"
	"github.com/notifyhub/push-worker/internal/provider"
	"github.com/notifyhub/push-worker/internal/ratelimiter"
	"github.com/notifyhub/push-worker/internal/repository"
	"github.com/notifyhub/push-worker/internal/worker"
)

type harness struct {
	store   *repository.MockStore
	gateway *provider.FakeGateway
	drainer *worker.Drainer
}

func newHarness(t *testing.T, opts worker.Options, batchSize int) *harness {
	t.Helper()
	store := repository.NewMockStore()
	gw := provider.NewFakeGateway()
	log := zap.NewNop()

	if opts.PageSize == 0 {
		opts.PageSize = 200
	}
	if opts.DeleteConcurrency == 0 {
		opts.DeleteConcurrency = 4
	}

	d := worker.NewDrainer(
		store, store,
		lease.NewRunLock(store, "worker-test", 2*time.Minute, log),
		lease.NewManager(store, "worker-test", 2*time.Minute, log),
		worker.NewExpander(store, 4, log),
		worker.NewDispatcher(gw, ratelimiter.New(0), batchSize, 2, log, worker.MetricHooks{}),
		worker.NewFinalizer(store, 100, log, worker.MetricHooks{}),
		opts, log, worker.MetricHooks{},
	)
	return &harness{store: store, gateway: gw, drainer: d}
}

func (h *harness) addTask(t *testing.T, id, recipient string, shard int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, h.store.Create(context.Background(), &domain.Task{
		ID:          id,
		Status:      domain.StatusQueued,
		Shard:       shard,
		ScheduledAt: now.Add(-time.Minute),
		RecipientID: recipient,
		Title:       "Title " + id,
		Body:        "Body " + id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func (h *harness) addEndpoint(t *testing.T, recipient, endpoint, token string) {
	t.Helper()
	require.NoError(t, h.store.Upsert(context.Background(), domain.Endpoint{
		RecipientID: recipient,
		EndpointID:  endpoint,
		Token:       token,
	}))
}

func (h *harness) task(t *testing.T, id string) *domain.Task {
	t.Helper()
	got, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func item(taskID, recipient, endpoint string) domain.MessageItem {
	return domain.MessageItem{
		TaskID:      taskID,
		RecipientID: recipient,
		EndpointID:  endpoint,
		Token:       "tok-" + endpoint,
		Title:       "t",
		Body:        "b",
	}
}
