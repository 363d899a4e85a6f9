package hostloop

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// RuntimeState is the lifecycle state of a Runtime.
//
//	StateAwake → StateRunning          [first HandleEvent]
//	StateAwake → StateTerminating      [Exit]
//	StateRunning → StateTerminating    [Exit]
//	any → StateTerminated              [Close]
type RuntimeState uint64

const (
	// StateAwake indicates the Runtime has been created but has not yet
	// handled an event.
	StateAwake RuntimeState = iota
	// StateRunning indicates the host loop is delivering events.
	StateRunning
	// StateTerminating indicates Exit has been requested.
	StateTerminating
	// StateTerminated indicates the Runtime has been closed.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s RuntimeState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine, padded to its own cache line.
type fastState struct { // betteralign:ignore
	_ cpu.CacheLinePad
	v atomic.Uint64
	_ cpu.CacheLinePad
}

func (s *fastState) Load() RuntimeState {
	return RuntimeState(s.v.Load())
}

// Store is reserved for the terminal state.
func (s *fastState) Store(state RuntimeState) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to RuntimeState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts each source state in order.
func (s *fastState) TransitionAny(validFrom []RuntimeState, to RuntimeState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}
