// Package bridge implements the Event Bridge (§4.C.5): the component that
// drains the Event Bus, runs each event through dedup, transformation, and
// the security/ACL gate, looks up matching subscriptions via the
// Subscription Registry, and hands matches to their Delivery driver.
package bridge

import (
	"fmt"
	"sync"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// State is the bridge's lifecycle state (§4.C.5).
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// validTransitions enumerates the bridge's allowed state transitions.
// StateError is reachable from any state through fail (an absorbing error
// state per §4.C.5). The table permits StateError -> StateStopped, but no
// Bridge method performs that transition.
var validTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateError},
	StateRunning:  {StateStopping, StateError},
	StateStopping: {StateStopped, StateError},
	StateError:    {StateStopped},
}

// stateMachine is embedded in Bridge to guard its lifecycle state.
type stateMachine struct {
	mu    sync.RWMutex
	state State
	errMsg string
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateStopped}
}

// Current returns the machine's current state.
func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition moves the machine to next, returning an InvalidTransition
// error if the move isn't permitted.
func (m *stateMachine) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range validTransitions[m.state] {
		if allowed == next {
			m.state = next
			if next != StateError {
				m.errMsg = ""
			}
			return nil
		}
	}
	return crucibleerr.New(crucibleerr.InvalidTransition,
		fmt.Sprintf("bridge: invalid transition %s -> %s", m.state, next))
}

// fail forces the machine into StateError from any state (the absorbing
// error transition §4.C.5 calls out explicitly), recording msg.
func (m *stateMachine) fail(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateError
	m.errMsg = msg
}

// ErrorMessage returns the message recorded by the most recent fail, or ""
// if the machine isn't in StateError.
func (m *stateMachine) ErrorMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateError {
		return ""
	}
	return m.errMsg
}
