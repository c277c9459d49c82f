// Package lease implements the two TTL tokens the worker relies on: the
// per-scope run lock and the per-task lease.
//
// Both are advisory. A holder that stalls past its TTL can be overtaken by
// another worker while it is still running; expiry is what recovers from a
// crash without a manual unlock, and the finalize guard is what keeps a late
// writer from clobbering terminal state.
package lease

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/repository"
)

// AllShardsKey is the scope key used when draining without a shard filter.
const AllShardsKey = "all"

// ScopeKey names the run lock for a shard group. A nil shard is "all".
func ScopeKey(shard *int) string {
	if shard == nil {
		return AllShardsKey
	}
	return strconv.Itoa(*shard)
}

// RunLock is a TTL mutex with one lock document per scope key.
type RunLock struct {
	repo   repository.LockRepository
	owner  string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewRunLock(repo repository.LockRepository, owner string, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{repo: repo, owner: owner, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock overrides the time source; tests use it to step past the TTL.
func (l *RunLock) WithClock(now func() time.Time) *RunLock {
	l.now = now
	return l
}

// TryAcquire takes the lock for key when it is absent or expired. A false
// result means someone else is draining that scope.
func (l *RunLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	return l.repo.TryAcquire(ctx, lockDocID(key), l.owner, now, now.Add(l.ttl))
}

// Release frees the lock. Failures are logged and swallowed; an unreleased
// lock simply expires.
func (l *RunLock) Release(ctx context.Context, key string) {
	if err := l.repo.Release(ctx, lockDocID(key), l.owner); err != nil {
		l.logger.Warn("run lock release failed", zap.String("scope", key), zap.Error(err))
	}
}

func lockDocID(key string) string {
	return "pushWorker_" + key
}
