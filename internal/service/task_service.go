package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
	"github.com/notifyhub/push-worker/internal/shard"
)

// TaskService is the producer side of the queue: it creates tasks and
// registers the endpoints they will be delivered to.
// HTTP handlers and CLIs depend on this service, not on the repositories.
type TaskService struct {
	tasks      repository.TaskRepository
	endpoints  repository.EndpointRepository
	shardCount int
	now        func() time.Time
	logger     *zap.Logger
}

func NewTaskService(
	tasks repository.TaskRepository,
	endpoints repository.EndpointRepository,
	shardCount int,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		tasks:      tasks,
		endpoints:  endpoints,
		shardCount: shardCount,
		now:        time.Now,
		logger:     logger,
	}
}

// Enqueue validates and persists a new task. It is written queued, on the
// recipient's shard, with no lease and attempt 0. A missing ScheduledAt
// means now.
func (s *TaskService) Enqueue(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	t := &domain.Task{
		ID:          uuid.New().String(),
		Status:      domain.StatusQueued,
		Shard:       shard.Of(req.RecipientID, s.shardCount),
		ScheduledAt: scheduledAt,
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	s.logger.Info("task enqueued",
		zap.String("task_id", t.ID),
		zap.Int("shard", t.Shard),
		zap.Time("scheduled_at", t.ScheduledAt),
	)
	return t, nil
}

// RegisterEndpoint creates or replaces a recipient's delivery endpoint.
func (s *TaskService) RegisterEndpoint(ctx context.Context, e domain.Endpoint) error {
	if e.RecipientID == "" {
		return domain.ErrInvalidRecipient
	}
	if e.EndpointID == "" || e.Token == "" {
		return domain.ErrInvalidEndpoint
	}
	if err := s.endpoints.Upsert(ctx, e); err != nil {
		return fmt.Errorf("persist endpoint: %w", err)
	}
	return nil
}

func (s *TaskService) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

// QueueStats counts due queued tasks per shard.
func (s *TaskService) QueueStats(ctx context.Context) (map[int]int, error) {
	return s.tasks.CountDue(ctx, s.now().UTC())
}
