package hostloop

import (
	"strconv"
	"time"
)

// EventKind classifies a [HostEvent]. The set is closed: the runtime
// dispatches on it with a switch, and keeps one waiter list per kind.
type EventKind uint8

const (
	// EventWake is the generic wake event. Hosts deliver it when the runtime
	// posts one through its Proxy, and as a synthetic event once per loop
	// iteration, immediately before the host would block.
	EventWake EventKind = iota
	// EventRedraw indicates that the window identified by HostEvent.Window
	// should be redrawn.
	EventRedraw
	// EventSpawn carries a Computation in HostEvent.Spawn, to be spawned.
	EventSpawn
	// EventForward carries host input (keyboard, pointer, device and similar
	// events) in HostEvent.Payload, opaque to the runtime.
	EventForward

	numEventKinds
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventWake:
		return "Wake"
	case EventRedraw:
		return "Redraw"
	case EventSpawn:
		return "Spawn"
	case EventForward:
		return "Forward"
	default:
		return "EventKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// HostEvent is an event delivered by the host to [Runtime.HandleEvent].
// The runtime never mutates it.
type HostEvent struct {
	// Spawn is the computation carried by an EventSpawn.
	Spawn Computation
	// Payload is the host's data for an EventForward.
	Payload any
	// Window identifies the target window, where applicable.
	Window uint64
	Kind   EventKind
}

// Proxy is the host's user-event channel. Post must be safe to call from
// any goroutine, and must not block.
type Proxy interface {
	Post(ev HostEvent) error
}

// ProxyFunc adapts a function to a [Proxy].
type ProxyFunc func(ev HostEvent) error

// Post calls f(ev).
func (f ProxyFunc) Post(ev HostEvent) error { return f(ev) }

// Clock supplies the current time. Implementations should be monotonic.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to a [Clock].
type ClockFunc func() time.Time

// Now calls f().
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FlowMode is the host behaviour requested by a [ControlFlow].
type FlowMode uint8

const (
	// FlowWait requests that the host block until the next event.
	FlowWait FlowMode = iota
	// FlowWaitUntil requests that the host block until the next event, or
	// ControlFlow.Deadline, whichever is first. On reaching the deadline the
	// host delivers an EventWake.
	FlowWaitUntil
	// FlowPoll requests that the host deliver another EventWake without
	// blocking, as tasks remain ready.
	FlowPoll
	// FlowExit requests that the host exit its loop with ControlFlow.Code.
	FlowExit
)

// String returns a human-readable representation of the mode.
func (m FlowMode) String() string {
	switch m {
	case FlowWait:
		return "Wait"
	case FlowWaitUntil:
		return "WaitUntil"
	case FlowPoll:
		return "Poll"
	case FlowExit:
		return "Exit"
	default:
		return "FlowMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// ControlFlow is returned by [Runtime.HandleEvent].
type ControlFlow struct {
	// Deadline is set for FlowWaitUntil.
	Deadline time.Time
	// Code is set for FlowExit.
	Code int
	Mode FlowMode
}

// waitLink threads a task slot through the waiter list of one EventKind.
type waitLink struct {
	prev, next int32
}

type waitList struct {
	head, tail int32
}

// await adds slot to the waiter list for kind, if not already present.
func (rt *Runtime) await(slot uint32, kind EventKind) {
	t := &rt.tasks[slot]
	bit := uint8(1) << kind
	if t.waitMask&bit != 0 {
		return
	}
	t.waitMask |= bit
	l := &rt.waiters[kind]
	t.waits[kind] = waitLink{prev: l.tail, next: -1}
	if l.tail >= 0 {
		rt.tasks[l.tail].waits[kind].next = int32(slot)
	} else {
		l.head = int32(slot)
	}
	l.tail = int32(slot)
}

// unwait removes slot from every waiter list it is on.
func (rt *Runtime) unwait(slot uint32) {
	t := &rt.tasks[slot]
	for kind := EventKind(0); t.waitMask != 0 && kind < numEventKinds; kind++ {
		bit := uint8(1) << kind
		if t.waitMask&bit == 0 {
			continue
		}
		t.waitMask &^= bit
		link := t.waits[kind]
		l := &rt.waiters[kind]
		if link.prev >= 0 {
			rt.tasks[link.prev].waits[kind].next = link.next
		} else {
			l.head = link.next
		}
		if link.next >= 0 {
			rt.tasks[link.next].waits[kind].prev = link.prev
		} else {
			l.tail = link.prev
		}
		t.waits[kind] = waitLink{prev: -1, next: -1}
	}
}

// notify wakes every task waiting on kind. If expose is set, the tasks it
// wakes will observe the current event via Context.Event during the next
// drain. A task already woken, e.g. by a timer, does not.
func (rt *Runtime) notify(kind EventKind, expose bool) {
	l := &rt.waiters[kind]
	for s := l.head; s >= 0; {
		slot := uint32(s)
		t := &rt.tasks[slot]
		s = t.waits[kind].next
		rt.unwait(slot)
		if rt.wakeLocal(slot, t.epoch) && expose {
			t.eventSeq = rt.eventSeq
		}
	}
}
