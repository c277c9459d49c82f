package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/push-worker/internal/repository"
)

type endpointKey struct {
	recipientID string
	endpointID  string
}

// CleanupQueue collects endpoints the gateway reported as permanently
// invalid and deletes each one at most once per flush.
type CleanupQueue struct {
	mu      sync.Mutex
	pending []endpointKey
	seen    map[endpointKey]struct{}

	endpoints repository.EndpointRepository
	logger    *zap.Logger
	onDelete  func()
}

func NewCleanupQueue(endpoints repository.EndpointRepository, logger *zap.Logger, onDelete func()) *CleanupQueue {
	if onDelete == nil {
		onDelete = func() {}
	}
	return &CleanupQueue{
		seen:      make(map[endpointKey]struct{}),
		endpoints: endpoints,
		logger:    logger,
		onDelete:  onDelete,
	}
}

// Enqueue schedules a delete. Repeats of the same endpoint are dropped.
func (q *CleanupQueue) Enqueue(recipientID, endpointID string) {
	k := endpointKey{recipientID: recipientID, endpointID: endpointID}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.seen[k]; dup {
		return
	}
	q.seen[k] = struct{}{}
	q.pending = append(q.pending, k)
}

// Len reports how many deletes are waiting.
func (q *CleanupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush runs the pending deletes with at most concurrency in flight and
// returns how many succeeded. Failures are logged and swallowed.
func (q *CleanupQueue) Flush(ctx context.Context, concurrency int) int {
	q.mu.Lock()
	jobs := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(jobs) == 0 {
		return 0
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		deleted int
	)
	g.SetLimit(max(concurrency, 1))
	for _, k := range jobs {
		g.Go(func() error {
			if err := q.endpoints.Delete(ctx, k.recipientID, k.endpointID); err != nil {
				q.logger.Warn("invalid endpoint delete failed",
					zap.String("recipient_id", k.recipientID),
					zap.String("endpoint_id", k.endpointID),
					zap.Error(err),
				)
				return nil
			}
			q.onDelete()
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	q.logger.Debug("invalid endpoints flushed", zap.Int("queued", len(jobs)), zap.Int("deleted", deleted))
	return deleted
}
