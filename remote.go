package hostloop

import (
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// remoteQueue carries wakes and cancellations from any goroutine to the
// loop.
//
// Requests are recorded in the task slot itself (remoteEpoch, cancelGen),
// and the slot index is enqueued only if it is not already queued. Each slot
// is therefore in the ring at most once, and a ring sized to the task
// capacity never fills.
type remoteQueue struct {
	ring lfq.MPSC[uint32]
}

func (q *remoteQueue) init(taskCapacity int) {
	q.ring.Init(max(2, nextPowerOfTwo(taskCapacity)))
}

// signal enqueues slot, unless it is already queued.
func (rt *Runtime) signal(slot uint32) {
	t := &rt.tasks[slot]
	if !t.queued.CompareAndSwap(0, 1) {
		return
	}
	if err := rt.remote.ring.Enqueue(&slot); err != nil {
		// unreachable while the ring holds every slot
		panic(err)
	}
}

// pushWake records a wake of the given suspension, from another goroutine.
// The caller must have consumed the slot's armed epoch.
func (rt *Runtime) pushWake(slot uint32, epoch uint64) {
	rt.tasks[slot].remoteEpoch.Store(epoch)
	rt.signal(slot)
}

// pushCancel records a cancellation from another goroutine. Of the pending
// cancellations for a slot, only the newest generation is kept, as no older
// generation can still be live.
func (rt *Runtime) pushCancel(id TaskID) {
	t := &rt.tasks[id.slot]
	for {
		old := t.cancelGen.Load()
		if old != 0 && int32(id.gen-old) <= 0 {
			return
		}
		if t.cancelGen.CompareAndSwap(old, id.gen) {
			break
		}
	}
	rt.signal(id.slot)
}

// spawnQueue is a bounded queue of computations submitted from other
// goroutines.
type spawnQueue struct {
	ring lfq.MPSC[Computation]
}

func (q *spawnQueue) init(size int) {
	q.ring.Init(max(2, nextPowerOfTwo(size)))
}

func (q *spawnQueue) push(c Computation) error {
	err := q.ring.Enqueue(&c)
	if iox.IsWouldBlock(err) {
		return ErrSpawnQueueFull
	}
	return err
}

// pop must only be called on the loop goroutine.
func (q *spawnQueue) pop() (Computation, bool) {
	c, err := q.ring.Dequeue()
	if err != nil {
		return nil, false
	}
	return c, true
}

// SpawnAnywhere spawns c from any goroutine. On the loop goroutine it is
// equivalent to Spawn. Otherwise, c is queued, and the host is sent an
// EventWake; the task is created when the loop handles it. If the queue is
// full, ErrSpawnQueueFull is returned.
func (rt *Runtime) SpawnAnywhere(c Computation) error {
	if c == nil {
		return ErrNilComputation
	}
	if rt.state.IsTerminal() {
		return ErrRuntimeClosed
	}
	if rt.isLoopThread() {
		_, err := rt.spawn(c, nil)
		return err
	}
	if err := rt.spawns.push(c); err != nil {
		return err
	}
	rt.requestPoll()
	return nil
}

// CancelAnywhere cancels the task identified by id from any goroutine. On
// the loop goroutine it is equivalent to Cancel. Otherwise, the request is
// applied when the loop next handles an event. Stale IDs are ignored.
func (rt *Runtime) CancelAnywhere(id TaskID) error {
	if rt.state.IsTerminal() {
		return ErrRuntimeClosed
	}
	if rt.isLoopThread() {
		rt.cancel(id)
		return nil
	}
	if id.gen == 0 || int(id.slot) >= len(rt.tasks) {
		return nil
	}
	rt.pushCancel(id)
	rt.requestPoll()
	return nil
}

// drainRemote applies queued spawns, then queued cancellations and wakes.
func (rt *Runtime) drainRemote() {
	for {
		c, ok := rt.spawns.pop()
		if !ok {
			break
		}
		if _, err := rt.spawn(c, nil); err != nil {
			rt.stats.failed.Add(1)
			rt.logger.Err().Err(err).Log(`dropped remote spawn`)
			if d, ok := c.(Discarder); ok {
				d.Discard()
			}
		}
	}
	for {
		slot, err := rt.remote.ring.Dequeue()
		if err != nil {
			break
		}
		t := &rt.tasks[slot]
		// cleared first, so that a request racing with this drain queues
		// the slot again
		t.queued.Store(0)
		if gen := t.cancelGen.Swap(0); gen != 0 {
			rt.cancel(TaskID{slot: slot, gen: gen})
		}
		if epoch := t.remoteEpoch.Swap(0); epoch != 0 && epoch == t.epoch {
			rt.stats.remoteWakes.Add(1)
			rt.markReady(slot)
		}
	}
}

// clearRemote discards every queued request. It must only be called on the
// loop goroutine.
func (rt *Runtime) clearRemote() {
	for {
		slot, err := rt.remote.ring.Dequeue()
		if err != nil {
			break
		}
		t := &rt.tasks[slot]
		t.queued.Store(0)
		t.cancelGen.Store(0)
		t.remoteEpoch.Store(0)
	}
	for {
		c, ok := rt.spawns.pop()
		if !ok {
			break
		}
		if d, ok := c.(Discarder); ok {
			d.Discard()
		}
	}
}
