package hostloop

import (
	"time"

	"github.com/joeycumines/go-hostloop/internal/timerq"
)

// Context is passed to [Computation.Resume]. It is only valid for the
// duration of that call: its methods are no-ops (or report a stale context)
// once Resume returns.
type Context struct {
	rt    *Runtime
	epoch uint64
	slot  uint32
	gen   uint32
}

type wakeRef struct {
	epoch uint64
	slot  uint32
}

func (cx *Context) active() bool {
	return cx.rt != nil && cx.rt.running == int32(cx.slot) && cx.rt.tasks[cx.slot].epoch == cx.epoch
}

// ID returns the identity of the running task.
func (cx *Context) ID() TaskID { return TaskID{slot: cx.slot, gen: cx.gen} }

// Runtime returns the runtime executing the task.
func (cx *Context) Runtime() *Runtime { return cx.rt }

// Now returns the time observed at the start of the current drain pass.
func (cx *Context) Now() time.Time { return cx.rt.now }

// Waker returns a waker for the current suspension of the task.
func (cx *Context) Waker() Waker {
	if !cx.active() {
		return Waker{}
	}
	return Waker{rt: cx.rt, epoch: cx.epoch, slot: cx.slot}
}

// SleepUntil arranges for the task to be woken at deadline, replacing any
// deadline set earlier in the same resumption. A deadline at or before Now
// wakes the task for the next drain pass. ErrCapacityExceeded is returned if
// the timer queue is full.
func (cx *Context) SleepUntil(deadline time.Time) error {
	if !cx.active() {
		return nil
	}
	rt := cx.rt
	t := &rt.tasks[cx.slot]
	if !t.timer.IsZero() {
		rt.timers.Cancel(t.timer)
		t.timer = timerq.Handle{}
	}
	if !deadline.After(rt.now) {
		rt.wakeLocal(cx.slot, cx.epoch)
		return nil
	}
	h, err := rt.timers.Schedule(deadline, wakeRef{epoch: cx.epoch, slot: cx.slot})
	if err != nil {
		return err
	}
	t.timer = h
	return nil
}

// Await arranges for the task to be woken by the next event of the given
// kind. It may be called for several kinds within one resumption, in which
// case the first matching event wins. When woken this way, the event is
// available from Event.
func (cx *Context) Await(kind EventKind) {
	if kind >= numEventKinds || !cx.active() {
		return
	}
	cx.rt.await(cx.slot, kind)
}

// Yield wakes the task for the next drain pass, returning Pending.
func (cx *Context) Yield() (Poll, error) {
	if cx.active() {
		cx.rt.wakeLocal(cx.slot, cx.epoch)
	}
	return Pending, nil
}

// Event returns the host event that woke the task, if it was woken by one
// of the kinds passed to Await.
func (cx *Context) Event() (HostEvent, bool) {
	rt := cx.rt
	if !cx.active() || rt.eventSeq == 0 || rt.tasks[cx.slot].eventSeq != rt.eventSeq || !rt.hasEvent {
		return HostEvent{}, false
	}
	return rt.event, true
}

// Spawn creates a new task, as per Runtime.Spawn.
func (cx *Context) Spawn(c Computation) (TaskID, error) {
	return cx.rt.spawn(c, nil)
}

// SpawnJoin creates a new task, as per Runtime.SpawnJoin.
func (cx *Context) SpawnJoin(c Computation, j *Join) (TaskID, error) {
	return cx.rt.SpawnJoin(c, j)
}
