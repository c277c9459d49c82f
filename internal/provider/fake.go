package provider

import (
	"context"
	"sync"
)

// FakeGateway answers from a per-token script and records every call.
// Tokens without a script entry succeed.
type FakeGateway struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    [][]Message

	// Err, when set, fails every call.
	Err error
	// ErrOnCall fails only the n-th call (1-based).
	ErrOnCall map[int]error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		outcomes:  make(map[string]Outcome),
		ErrOnCall: make(map[int]error),
	}
}

// Script sets the outcome returned for token.
func (f *FakeGateway) Script(token string, o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[token] = o
}

func (f *FakeGateway) SendBatch(_ context.Context, msgs []Message) ([]Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]Message, len(msgs))
	copy(batch, msgs)
	f.calls = append(f.calls, batch)

	if f.Err != nil {
		return nil, f.Err
	}
	if err := f.ErrOnCall[len(f.calls)]; err != nil {
		return nil, err
	}

	out := make([]Outcome, len(msgs))
	for i, m := range msgs {
		if o, ok := f.outcomes[m.Token]; ok {
			out[i] = o
			continue
		}
		out[i] = Outcome{Success: true}
	}
	return out, nil
}

// Calls returns the batches received so far.
func (f *FakeGateway) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ Gateway = (*FakeGateway)(nil)
