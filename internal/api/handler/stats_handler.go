package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/push-worker/internal/api/middleware"
)

// QueueStatser counts due queued tasks per shard.
type QueueStatser interface {
	QueueStats(ctx context.Context) (map[int]int, error)
}

// StatsHandler serves a JSON snapshot of the queue backlog.
// Raw Prometheus metrics are available at /metrics and are separate from
// this endpoint.
type StatsHandler struct {
	svc    QueueStatser
	logger *zap.Logger
}

func NewStatsHandler(svc QueueStatser, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{svc: svc, logger: logger}
}

// Stats handles GET /push/stats
//
// @Summary  Due queued tasks per shard
// @Tags     push
// @Produce  json
// @Success  200  {object}  map[string]any
// @Failure  401  {object}  map[string]any
// @Router   /push/stats [get]
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.QueueStats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed",
			zap.String("request_id", apimw.GetRequestID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	due := make(map[string]int, len(counts))
	total := 0
	for shard, n := range counts {
		due[strconv.Itoa(shard)] = n
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"due":   due,
		"total": total,
	})
}
