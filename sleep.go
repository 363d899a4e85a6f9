package hostloop

import (
	"time"
)

// Sleeper is a suspension-aware timer for use within a Computation. Poll it
// on each resumption until it reports true.
type Sleeper struct {
	deadline time.Time
	d        time.Duration
	started  bool
}

// Sleep returns a Sleeper that completes d after it is first polled.
func Sleep(d time.Duration) Sleeper {
	return Sleeper{d: d}
}

// SleepUntil returns a Sleeper that completes at deadline. A deadline that
// has already passed completes on the first poll.
func SleepUntil(deadline time.Time) Sleeper {
	return Sleeper{deadline: deadline, started: true}
}

// Poll reports whether the deadline has been reached, otherwise registering
// a timer to wake the task. An error (ErrCapacityExceeded) indicates the
// timer could not be registered.
func (s *Sleeper) Poll(cx *Context) (bool, error) {
	now := cx.Now()
	if !s.started {
		s.deadline = now.Add(s.d)
		s.started = true
	}
	if !now.Before(s.deadline) {
		return true, nil
	}
	return false, cx.SleepUntil(s.deadline)
}

// Deadline returns the deadline, which is only known once the Sleeper has
// been polled, for Sleepers returned by Sleep.
func (s *Sleeper) Deadline() (time.Time, bool) {
	return s.deadline, s.started
}
