package bridge

import (
	"context"
	"sync"
	"time"
)

// FlowState tracks a single sign-in attempt.
type FlowState int

const (
	StateIdle FlowState = iota
	StateRequested
	StateDelivered
	StateReported
)

func (s FlowState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateDelivered:
		return "delivered"
	case StateReported:
		return "reported"
	default:
		return "idle"
	}
}

// Result is the outcome of a flow. Credential is set only when the credential
// reached the host receiver; otherwise Err says why not.
type Result struct {
	Kind       FlowKind
	FlowID     string
	Credential string
	Err        error
}

// Flow is a pending OAuth2 token request. It completes exactly once and its
// result stays readable by any number of waiters.
type Flow struct {
	ID         string
	Kind       FlowKind
	ConsentURL string
	Created    time.Time

	mu     sync.Mutex
	state  FlowState
	result Result
	done   chan struct{}
}

func newFlow(id string, kind FlowKind, consentURL string, now time.Time) *Flow {
	return &Flow{
		ID:         id,
		Kind:       kind,
		ConsentURL: consentURL,
		Created:    now,
		state:      StateRequested,
		done:       make(chan struct{}),
	}
}

// State returns the current state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed once the flow leaves StateRequested.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome and whether the flow has finished.
func (f *Flow) Result() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.state != StateRequested
}

// Wait blocks for the result or until ctx is done. Giving up on the wait
// does not cancel the flow.
func (f *Flow) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		res, _ := f.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish moves the flow to a terminal state. It returns false if the flow
// already finished.
func (f *Flow) finish(state FlowState, res Result) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateRequested {
		return false
	}
	f.state = state
	res.Kind = f.Kind
	res.FlowID = f.ID
	f.result = res
	close(f.done)
	return true
}
