package callback

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// State is the position of a Pending entry in its round trip.
type State int32

// Pending states.
const (
	// StateAwaitingForward waits for the client to return the request to forward.
	StateAwaitingForward State = iota
	// StateAwaitingResponseOverride waits for the client to return a response.
	StateAwaitingResponseOverride
	// StateDone accepts nothing further.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingForward:
		return "AwaitingForward"
	case StateAwaitingResponseOverride:
		return "AwaitingResponseOverride"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Outcome is one delivery to a Pending entry. Exactly one of Request or
// Response is set on success. On failure Err is set and Response carries the
// synthetic 404 the waiter should send.
type Outcome struct {
	Request  *model.HTTPRequest
	Response *model.HTTPResponse
	Err      error
}

// Pending is a correlation entry waiting on a callback client.
type Pending struct {
	ID       string
	ClientID string

	state    atomic.Int32
	override bool
	ch       chan Outcome
	reg      *Registry
}

func newPending(reg *Registry, id, clientID string, initial State, override bool) *Pending {
	p := &Pending{
		ID:       id,
		ClientID: clientID,
		override: override,
		// A round trip delivers at most two outcomes.
		ch:  make(chan Outcome, 2),
		reg: reg,
	}
	p.state.Store(int32(initial))
	return p
}

// State returns the current state.
func (p *Pending) State() State {
	return State(p.state.Load())
}

// Wait blocks for the next outcome. When ctx ends first the entry is failed
// with ErrCallbackTimeout, unless a delivery won the race.
func (p *Pending) Wait(ctx context.Context) Outcome {
	select {
	case o := <-p.ch:
		return o
	case <-ctx.Done():
		p.reg.fail(p, fmt.Errorf("%w: %w", ErrCallbackTimeout, ctx.Err()))
		return <-p.ch
	}
}

// advance moves the entry forward for a delivery of kind t and reports the
// new state. ok is false when the entry does not accept t in its current
// state, including after it is Done.
func (p *Pending) advance(t MessageType) (next State, ok bool) {
	for {
		cur := State(p.state.Load())
		next, ok = transition(cur, t, p.override)
		if !ok {
			return cur, false
		}
		if p.state.CompareAndSwap(int32(cur), int32(next)) {
			return next, true
		}
	}
}

func transition(cur State, t MessageType, override bool) (State, bool) {
	switch {
	case cur == StateDone:
		return cur, false
	case t == TypeError:
		return StateDone, true
	case cur == StateAwaitingForward && t == TypeHTTPRequest:
		if override {
			return StateAwaitingResponseOverride, true
		}
		return StateDone, true
	case cur == StateAwaitingResponseOverride && t == TypeHTTPResponse:
		return StateDone, true
	default:
		return cur, false
	}
}
