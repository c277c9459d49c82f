package worker

import (
	"time"

	"github.com/notifyhub/push-worker/internal/domain"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the constructor signatures clean; nil fields are no-ops.
type MetricHooks struct {
	OnClaimed        func(n int)
	OnMessages       func(success, fail, invalid int)
	OnFinalized      func(summary domain.ResultSummary)
	OnGatewayError   func()
	OnEndpointDelete func()
	OnLockBusy       func(scope string)
	OnRound          func(d time.Duration)
	OnRecovered      func(n int)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnClaimed == nil {
		h.OnClaimed = func(int) {}
	}
	if h.OnMessages == nil {
		h.OnMessages = func(int, int, int) {}
	}
	if h.OnFinalized == nil {
		h.OnFinalized = func(domain.ResultSummary) {}
	}
	if h.OnGatewayError == nil {
		h.OnGatewayError = func() {}
	}
	if h.OnEndpointDelete == nil {
		h.OnEndpointDelete = func() {}
	}
	if h.OnLockBusy == nil {
		h.OnLockBusy = func(string) {}
	}
	if h.OnRound == nil {
		h.OnRound = func(time.Duration) {}
	}
	if h.OnRecovered == nil {
		h.OnRecovered = func(int) {}
	}
	return h
}
