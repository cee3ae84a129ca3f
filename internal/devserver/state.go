package devserver

import (
	"sync"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// State is the dev server lifecycle state.
type State int

const (
	// StateIdle is the state before the first build finished.
	StateIdle State = iota
	StateServing
	StateRebuilding
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateServing:
		return "serving"
	case StateRebuilding:
		return "rebuilding"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists the allowed moves. Idle moves straight to Serving or
// Failed with the result of the startup build; a superseded rebuild stays
// in Rebuilding.
var transitions = map[State][]State{
	StateIdle:       {StateServing, StateFailed},
	StateServing:    {StateRebuilding},
	StateRebuilding: {StateRebuilding, StateServing, StateFailed},
	StateFailed:     {StateRebuilding},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func (m *stateMachine) get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition moves to to and returns the previous state.
func (m *stateMachine) transition(to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.state
	if !CanTransition(from, to) {
		return from, ferrors.InternalError("invalid dev server state transition").
			WithContext("from", from.String()).
			WithContext("to", to.String()).
			Build()
	}
	m.state = to
	return from, nil
}
