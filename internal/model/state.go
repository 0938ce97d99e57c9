package model

import (
	"errors"
	"fmt"
)

// BroadcastState is the single lifecycle state of a broadcast.
type BroadcastState string

const (
	StatePending   BroadcastState = "pending"
	StateSent      BroadcastState = "sent"
	StateCancelled BroadcastState = "cancelled"
	StateFailed    BroadcastState = "failed"
)

// Event drives a broadcast from one state to another.
type Event string

const (
	EventCancel  Event = "cancel"
	EventDeliver Event = "deliver"
	EventFail    Event = "fail"
	EventRequeue Event = "requeue"
)

// ErrIllegalTransition is returned when an event is not allowed from the current state.
var ErrIllegalTransition = errors.New("illegal broadcast state transition")

// transitions[event][from] = to
var transitions = map[Event]map[BroadcastState]BroadcastState{
	EventCancel: {
		StatePending: StateCancelled,
	},
	EventDeliver: {
		StatePending: StateSent,
	},
	// the dispatcher claims a broadcast with deliver before its first send and
	// settles it as failed once every attempt of that pass has failed.
	EventFail: {
		StateSent: StateFailed,
	},
	// sent/failed -> pending re-opens a terminal state for partial-failure recovery.
	EventRequeue: {
		StatePending: StatePending,
		StateSent:    StatePending,
		StateFailed:  StatePending,
	},
}

func (s BroadcastState) Valid() bool {
	switch s {
	case StatePending, StateSent, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is out of the dispatcher's reach until requeued.
func (s BroadcastState) Terminal() bool {
	return s != StatePending
}

// Apply returns the state reached from s by e.
func (s BroadcastState) Apply(e Event) (BroadcastState, error) {
	next, ok := transitions[e][s]
	if !ok {
		return s, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, e, s)
	}
	return next, nil
}

// Transition describes an event as a compare-and-set: any of From becomes To.
type Transition struct {
	Event Event
	From  []BroadcastState
	To    BroadcastState
}

// TransitionFor returns the compare-and-set form of e. Every source state of an
// event leads to the same target, so a single UPDATE ... WHERE status IN (From)
// applies it atomically.
func TransitionFor(e Event) (Transition, error) {
	m, ok := transitions[e]
	if !ok {
		return Transition{}, fmt.Errorf("unknown broadcast event %q", e)
	}
	t := Transition{Event: e}
	// fixed order keeps generated SQL stable
	for _, from := range []BroadcastState{StatePending, StateSent, StateFailed, StateCancelled} {
		to, ok := m[from]
		if !ok {
			continue
		}
		t.From = append(t.From, from)
		t.To = to
	}
	return t, nil
}

// Allows reports whether the transition can fire from s.
func (t Transition) Allows(s BroadcastState) bool {
	for _, f := range t.From {
		if f == s {
			return true
		}
	}
	return false
}
