package core

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of the composition root.
type State int32

const (
	Uninitialized State = iota
	CapabilitiesActivating
	Ready
	Failed
	// Stopped is entered from Ready on graceful shutdown
	Stopped
)

// ErrInvalidTransition is returned when a state change is not permitted.
var ErrInvalidTransition = errors.New("invalid state transition")

var stateNames = map[State]string{
	Uninitialized:          "Uninitialized",
	CapabilitiesActivating: "CapabilitiesActivating",
	Ready:                  "Ready",
	Failed:                 "Failed",
	Stopped:                "Stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == Failed || s == Stopped
}

// CanTransitionTo reports whether moving from s to next is permitted.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case Uninitialized:
		return next == CapabilitiesActivating
	case CapabilitiesActivating:
		return next == Ready || next == Failed
	case Ready:
		return next == Stopped
	default:
		return false
	}
}

// StateMachine guards lifecycle transitions. It is safe for concurrent use.
type StateMachine struct {
	mu       sync.RWMutex
	state    State
	onChange func(from, to State)
}

// NewStateMachine returns a machine in Uninitialized. onChange, if not nil,
// is invoked synchronously after every successful transition.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{state: Uninitialized, onChange: onChange}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the machine to next or returns ErrInvalidTransition.
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	if !from.CanTransitionTo(next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}
