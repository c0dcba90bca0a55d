package pipeline

import "fmt"

// Phase is the coarse state of a task run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseFailed
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the sequencer state. Index and Stage are meaningful while running
// and, for failures, name the stage that failed.
type State struct {
	Phase Phase
	Index int
	Stage string
}

func (s State) String() string {
	if s.Phase == PhaseRunning {
		return fmt.Sprintf("running(%d:%s)", s.Index, s.Stage)
	}
	return s.Phase.String()
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s.Phase == PhaseFailed || s.Phase == PhaseCompleted
}

// machine enforces Idle -> Running(i) -> {Running(i+1) | Failed | Completed}.
type machine struct {
	current  State
	observer func(from, to State)
}

func newMachine(observer func(from, to State)) *machine {
	return &machine{current: State{Phase: PhaseIdle}, observer: observer}
}

func (m *machine) state() State { return m.current }

func (m *machine) to(next State) {
	if !validTransition(m.current, next) {
		panic(fmt.Sprintf("pipeline: invalid state transition %s -> %s", m.current, next))
	}
	prev := m.current
	m.current = next
	if m.observer != nil {
		m.observer(prev, next)
	}
}

func validTransition(from, to State) bool {
	switch from.Phase {
	case PhaseIdle:
		if to.Phase == PhaseRunning {
			return to.Index == 0
		}
		// A task can fail validation or have no stages at all.
		return to.Phase == PhaseFailed || to.Phase == PhaseCompleted
	case PhaseRunning:
		switch to.Phase {
		case PhaseRunning:
			return to.Index == from.Index+1
		case PhaseFailed, PhaseCompleted:
			return true
		}
	}
	return false
}
