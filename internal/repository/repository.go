package repository

import (
	"context"
	"time"

	"github.com/notifyhub/push-worker/internal/domain"
)

// DueFilter selects queued tasks that are eligible for a claim at Now.
// A nil Shard means every shard.
type DueFilter struct {
	Shard *int
	Now   time.Time
	Limit int
}

// TaskRepository is the store facade the worker drains the queue through.
// Every mutation of a single task is one conditional statement, so callers
// never hold a lock across calls.
// The pgx implementation is in pg_task_repo.go.
// Tests use a hand-written in-memory store (mock_store.go).
type TaskRepository interface {
	Create(ctx context.Context, t *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	FindDue(ctx context.Context, f DueFilter) ([]*domain.Task, error)
	CountDue(ctx context.Context, now time.Time) (map[int]int, error)

	// ClaimLease leases a queued, unleased task to owner until the given
	// time and bumps its attempt counter. ok is false when the task is
	// missing, not queued, or still leased at now.
	ClaimLease(ctx context.Context, id, owner string, now, until time.Time) (attempt int, ok bool, err error)

	// RecoverStale returns abandoned in-flight tasks older than cutoff to
	// the eligible pool and reports how many rows it touched.
	RecoverStale(ctx context.Context, shard *int, cutoff time.Time, limit int) (int, error)

	// Finalize writes terminal state unless the task was already finalized.
	Finalize(ctx context.Context, f domain.Finalization) (bool, error)
	// FinalizeBatch applies Finalize to every entry in one transaction and
	// returns the ids whose write was applied.
	FinalizeBatch(ctx context.Context, fs []domain.Finalization) ([]string, error)
}

// EndpointRepository reads and prunes recipients' delivery endpoints.
type EndpointRepository interface {
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.Endpoint, error)
	Upsert(ctx context.Context, e domain.Endpoint) error
	Delete(ctx context.Context, recipientID, endpointID string) error
}

// LockRepository stores TTL run locks keyed by scope.
type LockRepository interface {
	// TryAcquire takes the lock for owner until the given time when it is
	// free or expired at now.
	TryAcquire(ctx context.Context, key, owner string, now, until time.Time) (bool, error)
	// Release frees the lock if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}
