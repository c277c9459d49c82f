package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
)

// Plan is the result of expanding a set of leased tasks.
type Plan struct {
	// Items holds the message items of every task that reaches dispatch.
	Items map[string][]domain.MessageItem
	// Order lists the keys of Items in claim order.
	Order []string
	// Immediate holds terminal writes for tasks that never reach dispatch.
	Immediate []domain.Finalization
}

// Messages flattens the plan's items in claim order.
func (p Plan) Messages() []domain.MessageItem {
	var out []domain.MessageItem
	for _, id := range p.Order {
		out = append(out, p.Items[id]...)
	}
	return out
}

// Expander resolves leased tasks into per-endpoint message items.
type Expander struct {
	endpoints   repository.EndpointRepository
	concurrency int
	logger      *zap.Logger
}

func NewExpander(endpoints repository.EndpointRepository, concurrency int, logger *zap.Logger) *Expander {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Expander{endpoints: endpoints, concurrency: concurrency, logger: logger}
}

type expansion struct {
	items []domain.MessageItem
	final *domain.Finalization
}

// Expand looks up every task's endpoints with bounded concurrency. Workers
// pull from a shared cursor, so lookup order across tasks is not fixed; the
// returned plan is assembled in input order regardless.
//
// A task with no endpoints, or only endpoints without a token, is finalized
// immediately. A task that fails validation, whose lookup fails, or whose
// expansion panics is finalized as an exception on its own.
func (e *Expander) Expand(ctx context.Context, tasks []*domain.Task) Plan {
	results := make([]expansion, len(tasks))

	var (
		cursor atomic.Int64
		wg     sync.WaitGroup
	)
	workers := min(e.concurrency, len(tasks))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(tasks) {
					return
				}
				results[i] = e.expandOne(ctx, tasks[i])
			}
		}()
	}
	wg.Wait()

	plan := Plan{Items: make(map[string][]domain.MessageItem)}
	for i, r := range results {
		if r.final != nil {
			plan.Immediate = append(plan.Immediate, *r.final)
			continue
		}
		id := tasks[i].ID
		plan.Items[id] = r.items
		plan.Order = append(plan.Order, id)
	}
	return plan
}

func (e *Expander) expandOne(ctx context.Context, t *domain.Task) (res expansion) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task expansion panicked", zap.String("task_id", t.ID), zap.Any("panic", r))
			res = exception(t.ID, fmt.Sprint(r))
		}
	}()

	if err := t.Validate(); err != nil {
		e.logger.Warn("malformed task", zap.String("task_id", t.ID), zap.Error(err))
		return exception(t.ID, err.Error())
	}

	eps, err := e.endpoints.ListByRecipient(ctx, t.RecipientID)
	if err != nil {
		e.logger.Warn("endpoint lookup failed",
			zap.String("task_id", t.ID),
			zap.String("recipient_id", t.RecipientID),
			zap.Error(err),
		)
		return exception(t.ID, err.Error())
	}

	if len(eps) == 0 {
		f := domain.ImmediateFinalization(t.ID, domain.SummaryNoRecipients, "")
		return expansion{final: &f}
	}

	items := make([]domain.MessageItem, 0, len(eps))
	for _, ep := range eps {
		if ep.Token == "" {
			continue
		}
		items = append(items, domain.MessageItem{
			TaskID:      t.ID,
			RecipientID: t.RecipientID,
			EndpointID:  ep.EndpointID,
			Token:       ep.Token,
			Title:       t.Title,
			Body:        t.Body,
		})
	}
	if len(items) == 0 {
		f := domain.ImmediateFinalization(t.ID, domain.SummaryNoValidTokens, "")
		return expansion{final: &f}
	}
	return expansion{items: items}
}

func exception(taskID, msg string) expansion {
	f := domain.ImmediateFinalization(taskID, domain.SummaryException, msg)
	return expansion{final: &f}
}
