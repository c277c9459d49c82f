package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/push-worker/internal/api/middleware"
	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/shard"
	"github.com/notifyhub/push-worker/internal/worker"
)

// ShardDrainer drains one shard, or all shards when shard is nil.
type ShardDrainer interface {
	Drain(ctx context.Context, shard *int, budget time.Duration) (worker.Result, error)
}

// KickRequest is the trigger body. Both fields are optional; Shard wins
// over the legacy ShardID when both are present.
type KickRequest struct {
	Shard   json.RawMessage `json:"shard,omitempty"`
	ShardID json.RawMessage `json:"shardId,omitempty"`
}

// KickResponse is returned on a completed drain. Shard is the number, or
// "all" when no shard was requested.
type KickResponse struct {
	OK        bool   `json:"ok"`
	Shard     any    `json:"shard"`
	Processed int    `json:"processed"`
	Subject   string `json:"subject"`
}

// KickHandler runs an on-demand drain.
type KickHandler struct {
	drainer    ShardDrainer
	shardCount int
	budget     time.Duration
	logger     *zap.Logger
}

func NewKickHandler(drainer ShardDrainer, shardCount int, budget time.Duration, logger *zap.Logger) *KickHandler {
	return &KickHandler{drainer: drainer, shardCount: shardCount, budget: budget, logger: logger}
}

// Kick handles POST /push/kick
//
// @Summary     Drain the queue now
// @Tags        push
// @Accept      json
// @Produce     json
// @Param       Authorization  header    string               true   "Bearer <EdDSA JWT>"
// @Param       body           body      handler.KickRequest  false  "Optional shard selector"
// @Success     200            {object}  handler.KickResponse
// @Failure     400            {object}  map[string]any
// @Failure     401            {object}  map[string]any
// @Failure     409            {object}  map[string]any
// @Router      /push/kick [post]
func (h *KickHandler) Kick(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(
		zap.String("request_id", apimw.GetRequestID(r.Context())),
		zap.String("subject", apimw.Subject(r.Context())),
	)

	sel, err := ParseKickBody(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sel != nil && !shard.Valid(*sel, h.shardCount) {
		mapError(w, fmt.Errorf("%w: %d not in [0,%d)", domain.ErrInvalidShard, *sel, h.shardCount))
		return
	}

	// A client that hangs up must not cut a round short; the budget bounds the drain.
	res, err := h.drainer.Drain(context.WithoutCancel(r.Context()), sel, h.budget)
	if err != nil {
		log.Warn("kick drain failed", zap.Error(err))
		mapError(w, err)
		return
	}

	var shardOut any = "all"
	if sel != nil {
		shardOut = *sel
	}
	log.Info("kick drain complete", zap.Any("shard", shardOut), zap.Int("processed", res.Claimed))
	respondJSON(w, http.StatusOK, KickResponse{
		OK:        true,
		Shard:     shardOut,
		Processed: res.Claimed,
		Subject:   apimw.Subject(r.Context()),
	})
}

// ParseKickBody reads the optional shard selector. An empty body, {} or
// null values select every shard. shard is used when present, otherwise
// shardId.
func ParseKickBody(body io.Reader) (*int, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var req KickRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if present(req.Shard) {
		return parseShard(req.Shard)
	}
	if present(req.ShardID) {
		return parseShard(req.ShardID)
	}
	return nil, nil
}

func present(v json.RawMessage) bool {
	s := strings.TrimSpace(string(v))
	return s != "" && s != "null"
}

// parseShard accepts an integral JSON number or a string holding one.
func parseShard(v json.RawMessage) (*int, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%w: not a number", domain.ErrInvalidShard)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", domain.ErrInvalidShard, s)
		}
		return &n, nil
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, fmt.Errorf("%w: %v is not an integer", domain.ErrInvalidShard, f)
	}
	n := int(f)
	return &n, nil
}
