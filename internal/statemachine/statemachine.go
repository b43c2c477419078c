// Package statemachine provides a guarded state holder that only allows moves
// along a fixed transition table.
package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports an illegal move.
type TransitionError[T comparable] struct {
	From T
	To   T
}

func (e *TransitionError[T]) Error() string {
	return fmt.Sprintf("invalid state transition (%v -> %v)", e.From, e.To)
}

func (e *TransitionError[T]) Unwrap() error {
	return ErrInvalidTransition
}

// StateMachine holds a current state and the set of legal successors for
// each state. It is safe for concurrent use.
type StateMachine[T comparable] struct {
	mu          sync.RWMutex
	state       T
	transitions map[T]map[T]struct{}
}

// New builds a StateMachine from a definition mapping each state to the states
// reachable from it. States missing from the definition have no successors.
func New[T comparable](definition map[T][]T, initial T) *StateMachine[T] {
	transitions := make(map[T]map[T]struct{}, len(definition))
	for from, tos := range definition {
		set := make(map[T]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		transitions[from] = set
	}
	return &StateMachine[T]{
		state:       initial,
		transitions: transitions,
	}
}

// State returns the current state.
func (sm *StateMachine[T]) State() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// CanTransition reports whether next is reachable from the current state.
func (sm *StateMachine[T]) CanTransition(next T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.transitions[sm.state][next]
	return ok
}

// SetState moves to next if the move is legal and reports whether it did.
func (sm *StateMachine[T]) SetState(next T) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.transitions[sm.state][next]; !ok {
		return false
	}
	sm.state = next
	return true
}

// MustSetState is the strict setter: it moves to next or returns a
// *TransitionError naming the rejected (from, to) pair. The state is left
// unchanged on error.
func (sm *StateMachine[T]) MustSetState(next T) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.transitions[sm.state][next]; !ok {
		return &TransitionError[T]{From: sm.state, To: next}
	}
	sm.state = next
	return nil
}
