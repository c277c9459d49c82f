package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// GatewayLimiter is a token bucket in front of the bulk gateway.
// Burst equals the rate so no extra burst capacity is allowed beyond the
// configured per-second maximum.
type GatewayLimiter struct {
	limiter *rate.Limiter
}

// New creates a GatewayLimiter allowing callsPerSec bulk calls per second.
// A non-positive value disables limiting.
func New(callsPerSec int) *GatewayLimiter {
	if callsPerSec <= 0 {
		return &GatewayLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &GatewayLimiter{limiter: rate.NewLimiter(rate.Limit(callsPerSec), callsPerSec)}
}

// Wait blocks until the limiter grants a token.
// Called immediately before every bulk send.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *GatewayLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
