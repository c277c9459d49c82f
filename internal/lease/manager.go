package lease

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
)

// recoverLimit caps how many rows one stale-recovery pass touches.
const recoverLimit = 200

// Manager claims individual tasks and recovers abandoned ones.
type Manager struct {
	repo   repository.TaskRepository
	owner  string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewManager(repo repository.TaskRepository, owner string, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{repo: repo, owner: owner, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Claim leases t to this worker. On success the lease fields and attempt
// counter on t are updated to match the store. A false result means the
// task is gone, no longer queued, or leased by someone else.
//
// Claims are made one task at a time so a contended row never blocks the
// rest of the page.
func (m *Manager) Claim(ctx context.Context, t *domain.Task) (bool, error) {
	now := m.now().UTC()
	until := now.Add(m.ttl)

	attempt, ok, err := m.repo.ClaimLease(ctx, t.ID, m.owner, now, until)
	if err != nil || !ok {
		return false, err
	}

	owner := m.owner
	t.LeaseUntil = &until
	t.LeaseOwner = &owner
	t.LeasedAt = &now
	t.Attempt = attempt
	return true, nil
}

// RecoverStale returns in-flight tasks whose lease or lock timestamp is
// older than staleAfter to the queue. staleAfter should sit well above the
// lease TTL so slow work is not mistaken for abandoned work.
func (m *Manager) RecoverStale(ctx context.Context, shard *int, staleAfter time.Duration) (int, error) {
	cutoff := m.now().UTC().Add(-staleAfter)
	n, err := m.repo.RecoverStale(ctx, shard, cutoff, recoverLimit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("recovered stale tasks", zap.String("scope", ScopeKey(shard)), zap.Int("count", n))
	}
	return n, nil
}
