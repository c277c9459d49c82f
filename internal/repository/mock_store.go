package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/push-worker/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of TaskRepository,
// EndpointRepository and LockRepository used in unit tests. A single mutex
// stands in for the store's single-document transactions.
type MockStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	endpoints map[string]map[string]domain.Endpoint
	locks     map[string]mockLock

	// DeleteCalls counts Delete invocations per "recipient/endpoint" key.
	DeleteCalls map[string]int
	// FinalizeWrites counts applied terminal writes per task.
	FinalizeWrites map[string]int

	// Optional error overrides, set in tests to simulate failure paths.
	FindDueErr       error
	ClaimErr         error
	RecoverErr       error
	FinalizeBatchErr error
	FinalizeErrFor   map[string]error
	ListErrFor       map[string]error
	DeleteErr        error
	AcquireErr       error
	ReleaseErr       error
}

type mockLock struct {
	until time.Time
	owner string
}

func NewMockStore() *MockStore {
	return &MockStore{
		tasks:          make(map[string]*domain.Task),
		endpoints:      make(map[string]map[string]domain.Endpoint),
		locks:          make(map[string]mockLock),
		DeleteCalls:    make(map[string]int),
		FinalizeWrites: make(map[string]int),
		FinalizeErrFor: make(map[string]error),
		ListErrFor:     make(map[string]error),
	}
}

var (
	_ TaskRepository     = (*MockStore)(nil)
	_ EndpointRepository = (*MockStore)(nil)
	_ LockRepository     = (*MockStore)(nil)
)

// ---- tasks ----

func (m *MockStore) Create(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MockStore) GetByID(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

// SetTask overwrites a stored task, bypassing every guard. Tests use it to
// stage states such as a stale processing row.
func (m *MockStore) SetTask(t *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = cloneTask(t)
}

func (m *MockStore) FindDue(_ context.Context, f DueFilter) ([]*domain.Task, error) {
	if m.FindDueErr != nil {
		return nil, m.FindDueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Task
	for _, t := range m.tasks {
		if t.Status != domain.StatusQueued || t.ScheduledAt.After(f.Now) || t.Leased(f.Now) {
			continue
		}
		if f.Shard != nil && t.Shard != *f.Shard {
			continue
		}
		due = append(due, cloneTask(t))
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if f.Limit > 0 && len(due) > f.Limit {
		due = due[:f.Limit]
	}
	return due, nil
}

func (m *MockStore) CountDue(_ context.Context, now time.Time) (map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int]int)
	for _, t := range m.tasks {
		if t.Status == domain.StatusQueued && !t.ScheduledAt.After(now) {
			counts[t.Shard]++
		}
	}
	return counts, nil
}

func (m *MockStore) ClaimLease(_ context.Context, id, owner string, now, until time.Time) (int, bool, error) {
	if m.ClaimErr != nil {
		return 0, false, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != domain.StatusQueued || t.FinalizedAt != nil || t.Leased(now) {
		return 0, false, nil
	}
	leasedAt := now
	t.LeaseUntil = &until
	t.LeaseOwner = &owner
	t.LeasedAt = &leasedAt
	t.Attempt++
	t.UpdatedAt = now
	return t.Attempt, true, nil
}

func (m *MockStore) RecoverStale(_ context.Context, shard *int, cutoff time.Time, limit int) (int, error) {
	if m.RecoverErr != nil {
		return 0, m.RecoverErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if limit > 0 && n >= limit {
			break
		}
		if t.FinalizedAt != nil || (shard != nil && t.Shard != *shard) {
			continue
		}
		staleProcessing := t.Status == domain.StatusProcessing && t.LeasedAt != nil && !t.LeasedAt.After(cutoff)
		expiredLease := t.Status == domain.StatusQueued && t.LeaseUntil != nil && !t.LeaseUntil.After(cutoff)
		if !staleProcessing && !expiredLease {
			continue
		}
		t.Status = domain.StatusQueued
		t.LeaseUntil = nil
		t.LeaseOwner = nil
		n++
	}
	return n, nil
}

func (m *MockStore) Finalize(_ context.Context, f domain.Finalization) (bool, error) {
	if err := m.FinalizeErrFor[f.TaskID]; err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyFinalize(f), nil
}

func (m *MockStore) FinalizeBatch(_ context.Context, fs []domain.Finalization) ([]string, error) {
	if m.FinalizeBatchErr != nil {
		return nil, m.FinalizeBatchErr
	}
	for _, f := range fs {
		if err := m.FinalizeErrFor[f.TaskID]; err != nil {
			// one failed statement aborts the whole transaction
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var applied []string
	for _, f := range fs {
		if m.applyFinalize(f) {
			applied = append(applied, f.TaskID)
		}
	}
	return applied, nil
}

func (m *MockStore) applyFinalize(f domain.Finalization) bool {
	t, ok := m.tasks[f.TaskID]
	if !ok || t.FinalizedAt != nil {
		return false
	}
	now := time.Now().UTC()
	res := f.Result
	t.Status = f.Status
	t.Result = &res
	t.LeaseUntil = nil
	t.LeaseOwner = nil
	t.FinalizedAt = &now
	t.UpdatedAt = now
	m.FinalizeWrites[f.TaskID]++
	return true
}

// ---- endpoints ----

func (m *MockStore) ListByRecipient(_ context.Context, recipientID string) ([]domain.Endpoint, error) {
	if err := m.ListErrFor[recipientID]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Endpoint
	for _, e := range m.endpoints[recipientID] {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EndpointID < result[j].EndpointID })
	return result, nil
}

func (m *MockStore) Upsert(_ context.Context, e domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endpoints[e.RecipientID] == nil {
		m.endpoints[e.RecipientID] = make(map[string]domain.Endpoint)
	}
	m.endpoints[e.RecipientID][e.EndpointID] = e
	return nil
}

func (m *MockStore) Delete(_ context.Context, recipientID, endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls[recipientID+"/"+endpointID]++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.endpoints[recipientID], endpointID)
	return nil
}

// ---- locks ----

func (m *MockStore) TryAcquire(_ context.Context, key, owner string, now, until time.Time) (bool, error) {
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.until.After(now) {
		return false, nil
	}
	m.locks[key] = mockLock{until: until, owner: owner}
	return true, nil
}

func (m *MockStore) Release(_ context.Context, key, owner string) error {
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.owner == owner {
		delete(m.locks, key)
	}
	return nil
}

// LockOwner reports who holds key at now, or "" when it is free.
func (m *MockStore) LockOwner(key string, now time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.until.After(now) {
		return cur.owner
	}
	return ""
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
