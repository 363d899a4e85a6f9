// Package simhost implements a simulated host event loop, for driving a
// hostloop.Runtime in examples and tests.
//
// The host pulls events from a buffered user-event channel, delivers each to
// the runtime, then delivers one synthetic EventWake before it would block,
// honouring the returned ControlFlow. With a ManualClock, blocking until a
// deadline advances the clock instead of sleeping.
package simhost

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.hybscloud.com/iox"

	hostloop "github.com/joeycumines/go-hostloop"
)

// ErrQueueFull is returned by Post when the event channel remains full.
var ErrQueueFull = errors.New("simhost: event queue full")

// postAttempts bounds the backoff in Post.
const postAttempts = 8

// Host is a simulated host event loop. It implements hostloop.Proxy.
type Host struct {
	events chan hostloop.HostEvent
	clock  *ManualClock
	// OnFlow, if set, observes each ControlFlow returned to the host.
	OnFlow func(flow hostloop.ControlFlow)
}

// New returns a Host with an event channel of the given size. A nil clock
// uses real time.
func New(size int, clock *ManualClock) *Host {
	if size <= 0 {
		size = 64
	}
	return &Host{
		events: make(chan hostloop.HostEvent, size),
		clock:  clock,
	}
}

// Post queues ev, retrying with backoff while the channel is full. It may be
// called from any goroutine.
func (h *Host) Post(ev hostloop.HostEvent) error {
	var bo iox.Backoff
	for i := 0; i < postAttempts; i++ {
		select {
		case h.events <- ev:
			return nil
		default:
		}
		bo.Wait()
	}
	return ErrQueueFull
}

// Clock returns the host's clock, for use with hostloop.WithClock, or nil
// for real time.
func (h *Host) Clock() hostloop.Clock {
	if h.clock == nil {
		return nil
	}
	return h.clock
}

// Run drives rt until it requests an exit, returning the exit code, or until
// ctx is done. It must be called on the goroutine that created rt.
func (h *Host) Run(ctx context.Context, rt *hostloop.Runtime) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		// deliver everything already queued
	queued:
		for {
			select {
			case ev := <-h.events:
				if flow := h.deliver(rt, ev); flow.Mode == hostloop.FlowExit {
					return flow.Code, nil
				}
			default:
				break queued
			}
		}

		// about to wait
		flow := h.deliver(rt, hostloop.HostEvent{Kind: hostloop.EventWake})

		switch flow.Mode {
		case hostloop.FlowExit:
			return flow.Code, nil

		case hostloop.FlowPoll:
			continue

		case hostloop.FlowWaitUntil:
			if h.clock != nil {
				// nothing else can happen before the deadline, unless another
				// goroutine posts an event
				select {
				case ev := <-h.events:
					if flow := h.deliver(rt, ev); flow.Mode == hostloop.FlowExit {
						return flow.Code, nil
					}
				default:
					h.clock.Set(flow.Deadline)
				}
				continue
			}
			d := time.Until(flow.Deadline)
			if d <= 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-timer.C:
			case ev := <-h.events:
				timer.Stop()
				if flow := h.deliver(rt, ev); flow.Mode == hostloop.FlowExit {
					return flow.Code, nil
				}
			}

		default:
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case ev := <-h.events:
				if flow := h.deliver(rt, ev); flow.Mode == hostloop.FlowExit {
					return flow.Code, nil
				}
			}
		}
	}
}

func (h *Host) deliver(rt *hostloop.Runtime, ev hostloop.HostEvent) hostloop.ControlFlow {
	flow := rt.HandleEvent(ev)
	if h.OnFlow != nil {
		h.OnFlow(flow)
	}
	return flow
}

// ManualClock is a hostloop.Clock that only moves when told to. It is safe
// for concurrent use.
type ManualClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewManualClock returns a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t, if t is after the current reading.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
