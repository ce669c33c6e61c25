package session

import (
	"fmt"
	"time"

	"qatmarket/pkg/errors"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateOffline is entered after the retry budget is spent. Only an
	// explicit Dial leaves it.
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOffline:
		return "offline"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Event int

const (
	EventDial Event = iota
	EventDialSucceeded
	EventDialFailed
	EventDropped
	EventServerClosed
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventDial:
		return "dial"
	case EventDialSucceeded:
		return "dial_succeeded"
	case EventDialFailed:
		return "dial_failed"
	case EventDropped:
		return "dropped"
	case EventServerClosed:
		return "server_closed"
	case EventStop:
		return "stop"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Step is the outcome of one transition. Delay is how long to wait before
// the next dial.
type Step struct {
	From  State
	To    State
	Delay time.Duration
}

// Machine is the client connection lifecycle. It holds no socket and
// performs no I/O.
type Machine struct {
	policy   BackoffPolicy
	rnd      func() float64
	state    State
	failures int
}

func NewMachine(policy BackoffPolicy, rnd func() float64) *Machine {
	if rnd == nil {
		rnd = func() float64 { return 0 }
	}
	return &Machine{policy: policy, rnd: rnd}
}

func (m *Machine) State() State { return m.state }

// Failures counts consecutive failed dials since the last connect.
func (m *Machine) Failures() int { return m.failures }

func (m *Machine) Fire(ev Event) (Step, error) {
	step := Step{From: m.state}

	switch {
	case ev == EventStop:
		m.state = StateDisconnected
		m.failures = 0

	case ev == EventDial && (m.state == StateDisconnected || m.state == StateOffline):
		if m.state == StateOffline {
			m.failures = 0
		}
		m.state = StateConnecting

	case ev == EventDialSucceeded && m.state == StateConnecting:
		m.state = StateConnected
		m.failures = 0

	case ev == EventDialFailed && m.state == StateConnecting:
		m.failures++
		if m.policy.Exhausted(m.failures) {
			m.state = StateOffline
			break
		}
		m.state = StateDisconnected
		step.Delay = m.policy.Delay(m.failures, m.rnd())

	case ev == EventDropped && m.state == StateConnected:
		m.state = StateDisconnected
		step.Delay = m.policy.Delay(1, m.rnd())

	case ev == EventServerClosed && m.state == StateConnected:
		m.state = StateDisconnected

	default:
		return step, errors.Transition("cannot %s while %s", ev, m.state)
	}

	step.To = m.state
	return step, nil
}
