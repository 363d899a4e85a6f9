package hostloop

import (
	"runtime"
	"sync"
)

// Waker identifies one suspension of one task. It is a small value, safe to
// copy, and Wake may be called from any goroutine.
//
// Only the first Wake of a given suspension has any effect. Wakers of a
// suspension that has since been resumed, or of a task that has completed,
// are inert.
type Waker struct {
	rt    *Runtime
	epoch uint64
	slot  uint32
}

// Wake schedules the task to be resumed. It never blocks or allocates. Off
// the loop goroutine, the wake is recorded in the task's slot, the slot is
// queued for the loop, and the host is sent an EventWake, if one is not
// already pending.
func (w Waker) Wake() {
	rt := w.rt
	if rt == nil {
		return
	}
	t := &rt.tasks[w.slot]
	if !t.armed.CompareAndSwap(w.epoch, 0) {
		rt.stats.coalescedWakes.Add(1)
		return
	}
	rt.stats.wakes.Add(1)
	if rt.isLoopThread() {
		rt.markReady(w.slot)
		return
	}
	rt.pushWake(w.slot, w.epoch)
	rt.requestPoll()
}

// IsZero reports whether w is the zero Waker, which does nothing.
func (w Waker) IsZero() bool { return w.rt == nil }

// wakeLocal is Wake, for the loop goroutine.
func (rt *Runtime) wakeLocal(slot uint32, epoch uint64) bool {
	if !rt.tasks[slot].armed.CompareAndSwap(epoch, 0) {
		rt.stats.coalescedWakes.Add(1)
		return false
	}
	rt.stats.wakes.Add(1)
	rt.markReady(slot)
	return true
}

// requestPoll posts an EventWake to the host, unless one is already
// pending. The flag is cleared when the loop handles the EventWake, before
// it drains the remote queues.
func (rt *Runtime) requestPoll() {
	if !rt.posted.CompareAndSwap(0, 1) {
		return
	}
	if err := rt.proxy.Post(HostEvent{Kind: EventWake}); err != nil {
		rt.posted.Store(0)
		rt.logger.Warning().Err(err).Log(`failed to post wake event`)
		return
	}
	rt.stats.posts.Add(1)
}

// isLoopThread checks if we're on the loop goroutine.
func (rt *Runtime) isLoopThread() bool {
	return getGoroutineID() == rt.loopGoroutineID
}

// stackBufPool holds the buffers for getGoroutineID, which would otherwise
// escape to the heap on every call.
var stackBufPool = sync.Pool{New: func() any { return new([64]byte) }}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	buf := stackBufPool.Get().(*[64]byte)
	defer stackBufPool.Put(buf)
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
