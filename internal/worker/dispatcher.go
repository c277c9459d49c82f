package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/provider"
	"github.com/notifyhub/push-worker/internal/ratelimiter"
)

// Dispatcher sends message items to the gateway in size-bounded chunks and
// folds the per-item outcomes back onto per-task counters.
type Dispatcher struct {
	gateway     provider.Gateway
	limiter     *ratelimiter.GatewayLimiter
	batchSize   int
	concurrency int
	logger      *zap.Logger
	hooks       MetricHooks
}

func NewDispatcher(
	gateway provider.Gateway,
	limiter *ratelimiter.GatewayLimiter,
	batchSize, concurrency int,
	logger *zap.Logger,
	hooks MetricHooks,
) *Dispatcher {
	if batchSize < 1 || batchSize > provider.MaxBatchSize {
		batchSize = provider.MaxBatchSize
	}
	return &Dispatcher{
		gateway:     gateway,
		limiter:     limiter,
		batchSize:   batchSize,
		concurrency: max(concurrency, 1),
		logger:      logger,
		hooks:       hooks.withDefaults(),
	}
}

type chunkResult struct {
	items    []domain.MessageItem
	outcomes []provider.Outcome
	err      error
}

// Dispatch sends items and returns the accumulated stats keyed by task id.
// Chunks may span tasks or split one task's items; chunks are sent
// concurrently but their outcomes are folded in chunk order, so the result
// does not depend on where chunk boundaries fall.
//
// Invalid-token endpoints are handed to cleanup. A chunk whose call fails
// charges every item in it as failed and schedules no deletes.
func (d *Dispatcher) Dispatch(ctx context.Context, items []domain.MessageItem, cleanup *CleanupQueue) map[string]*domain.TaskStat {
	stats := make(map[string]*domain.TaskStat)
	if len(items) == 0 {
		return stats
	}

	var chunks []chunkResult
	for start := 0; start < len(items); start += d.batchSize {
		end := min(start+d.batchSize, len(items))
		chunks = append(chunks, chunkResult{items: items[start:end]})
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range chunks {
		c := &chunks[i]
		g.Go(func() error {
			c.outcomes, c.err = d.send(ctx, c.items)
			return nil
		})
	}
	_ = g.Wait()

	var success, fail, invalid int
	for i, c := range chunks {
		if c.err != nil {
			d.hooks.OnGatewayError()
			d.logger.Error("gateway batch failed",
				zap.Int("chunk", i),
				zap.Int("size", len(c.items)),
				zap.Error(c.err),
			)
			msg := domain.Truncate(c.err.Error(), domain.MaxErrorLen)
			for _, it := range c.items {
				s := statFor(stats, it.TaskID)
				s.Total++
				s.Fail++
				s.LastError = msg
				fail++
			}
			continue
		}

		for j, o := range c.outcomes {
			it := c.items[j]
			s := statFor(stats, it.TaskID)
			s.Total++
			if o.Success {
				s.Success++
				success++
				continue
			}
			s.Fail++
			fail++
			s.LastError = domain.Truncate(o.ErrorText(), domain.MaxErrorLen)
			if provider.IsPermanentlyInvalid(o.ErrorCode) {
				s.Invalid++
				invalid++
				cleanup.Enqueue(it.RecipientID, it.EndpointID)
			}
		}
	}

	d.hooks.OnMessages(success, fail, invalid)
	d.logger.Info("dispatch complete",
		zap.Int("messages", len(items)),
		zap.Int("chunks", len(chunks)),
		zap.Int("success", success),
		zap.Int("fail", fail),
		zap.Int("invalid", invalid),
	)
	return stats
}

func (d *Dispatcher) send(ctx context.Context, items []domain.MessageItem) ([]provider.Outcome, error) {
	// Block here until the gateway limiter grants a token.
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	msgs := make([]provider.Message, len(items))
	for i, it := range items {
		msgs[i] = provider.Message{
			Token: it.Token,
			Title: it.Title,
			Body:  it.Body,
			Data:  map[string]string{"taskId": it.TaskID, "recipientId": it.RecipientID},
		}
	}

	outcomes, err := d.gateway.SendBatch(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if len(outcomes) != len(items) {
		return nil, fmt.Errorf("gateway returned %d outcomes for %d messages", len(outcomes), len(items))
	}
	return outcomes, nil
}

func statFor(stats map[string]*domain.TaskStat, taskID string) *domain.TaskStat {
	s, ok := stats[taskID]
	if !ok {
		s = &domain.TaskStat{}
		stats[taskID] = s
	}
	return s
}
