package hostloop

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"code.hybscloud.com/atomix"

	"github.com/joeycumines/go-hostloop/internal/timerq"
)

// Poll is the outcome of resuming a [Computation].
type Poll uint8

const (
	// Pending indicates the computation suspended. It must have recorded
	// interest in something that will wake it, or it will not run again.
	Pending Poll = iota
	// Done indicates the computation completed.
	Done
)

// String returns a human-readable representation of the poll result.
func (p Poll) String() string {
	if p == Done {
		return "Done"
	}
	return "Pending"
}

// Computation is the body of a task, expressed as a resumable state machine.
//
// Resume is called on the loop goroutine, first when the task is spawned,
// then each time the task is woken. It must not block. A non-nil error
// completes the task as failed, regardless of the returned Poll, as does a
// panic.
type Computation interface {
	Resume(cx *Context) (Poll, error)
}

// ComputationFunc adapts a function to a [Computation].
type ComputationFunc func(cx *Context) (Poll, error)

// Resume calls f(cx).
func (f ComputationFunc) Resume(cx *Context) (Poll, error) { return f(cx) }

// Discarder may be implemented by a [Computation] to release resources when
// its task is cancelled, or dropped by Close, before completing.
type Discarder interface {
	Discard()
}

// TaskID identifies a task. IDs are never reused while any reference to the
// task could still be outstanding: the generation is bumped each time a slot
// is released. The zero TaskID is never valid.
type TaskID struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether id is the zero TaskID.
func (id TaskID) IsZero() bool { return id == TaskID{} }

// String returns a human-readable representation of the id.
func (id TaskID) String() string {
	return fmt.Sprintf("%d.%d", id.slot, id.gen)
}

// TaskStatus is the state of a task.
type TaskStatus uint8

const (
	statusFree TaskStatus = iota
	// StatusReady indicates the task is queued to run in a drain pass.
	StatusReady
	// StatusRunning indicates the task is currently being resumed.
	StatusRunning
	// StatusSuspended indicates the task is waiting to be woken.
	StatusSuspended
	// StatusCompleted indicates the task has finished, or its ID is stale.
	StatusCompleted
)

// String returns a human-readable representation of the status.
func (s TaskStatus) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusSuspended:
		return "Suspended"
	case StatusCompleted, statusFree:
		return "Completed"
	default:
		return "Unknown"
	}
}

// taskSlot is one entry of the task arena. The arena never grows, so a slot's
// address is stable, and the atomic fields may be accessed from any
// goroutine. Every other field is owned by the loop goroutine.
type taskSlot struct {
	// armed holds the epoch of the current suspension until it is consumed
	// by a wake, or 0.
	armed atomix.Uint64
	// remoteEpoch is the suspension woken from another goroutine, or 0.
	remoteEpoch atomix.Uint64
	// cancelGen is the generation cancelled from another goroutine, or 0.
	cancelGen atomix.Uint32
	// queued is set while the slot is in the remote queue.
	queued atomix.Uint32

	// cx is passed to the computation's Resume.
	cx Context

	comp  Computation
	join  *Join
	timer timerq.Handle

	// epoch identifies the current suspension, and only increases.
	epoch uint64
	// eventSeq records the dispatched event that woke the task, if any.
	eventSeq uint64

	waits [numEventKinds]waitLink

	gen      uint32
	nextFree int32

	state    TaskStatus
	waitMask uint8
	canceled bool
	rewake   bool
}

// readyRing is the FIFO of ready slots. It holds each live slot at most
// once, so its capacity is the task capacity.
type readyRing struct {
	buf  []uint32
	head int
	n    int
}

func (r *readyRing) push(slot uint32) {
	if r.n == len(r.buf) {
		panic("hostloop: ready ring overflow")
	}
	i := r.head + r.n
	if i >= len(r.buf) {
		i -= len(r.buf)
	}
	r.buf[i] = slot
	r.n++
}

func (r *readyRing) pop() (uint32, bool) {
	if r.n == 0 {
		return 0, false
	}
	slot := r.buf[r.head]
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
	r.n--
	return slot, true
}

func (r *readyRing) reset() {
	r.head = 0
	r.n = 0
}

// Spawn creates a task running c. The task is ready immediately, and is
// first resumed no later than the next drain pass. Spawn must be called on
// the loop goroutine, see SpawnAnywhere otherwise.
func (rt *Runtime) Spawn(c Computation) (TaskID, error) {
	if !rt.isLoopThread() {
		return TaskID{}, ErrNotLoopThread
	}
	return rt.spawn(c, nil)
}

// SpawnJoin is like Spawn, but records the task's completion in j, which
// must not be in use by another live task.
func (rt *Runtime) SpawnJoin(c Computation, j *Join) (TaskID, error) {
	if !rt.isLoopThread() {
		return TaskID{}, ErrNotLoopThread
	}
	if j == nil {
		return TaskID{}, errors.New("hostloop: nil join")
	}
	return rt.spawn(c, j)
}

func (rt *Runtime) spawn(c Computation, j *Join) (TaskID, error) {
	if c == nil {
		return TaskID{}, ErrNilComputation
	}
	if rt.state.IsTerminal() {
		return TaskID{}, ErrRuntimeClosed
	}
	if rt.free < 0 {
		return TaskID{}, ErrTaskCapacityExceeded
	}
	slot := uint32(rt.free)
	t := &rt.tasks[slot]
	rt.free = t.nextFree
	t.nextFree = -1
	t.comp = c
	t.join = j
	t.state = StatusReady
	rt.live++
	rt.ready.push(slot)
	id := TaskID{slot: slot, gen: t.gen}
	if j != nil {
		j.reset(id)
	}
	rt.stats.spawned.Add(1)
	return id, nil
}

// Cancel completes the task identified by id with ErrCanceled, without
// resuming it again. A ready task is completed when the drain reaches it,
// and a suspended task immediately. Cancel reports false if the task has
// already completed (or was already cancelled), or if it is called off the
// loop goroutine, see CancelAnywhere.
func (rt *Runtime) Cancel(id TaskID) bool {
	if !rt.isLoopThread() {
		return false
	}
	return rt.cancel(id)
}

func (rt *Runtime) cancel(id TaskID) bool {
	t := rt.lookup(id)
	if t == nil || t.canceled {
		return false
	}
	switch t.state {
	case StatusReady, StatusRunning:
		t.canceled = true
	case StatusSuspended:
		t.canceled = true
		rt.finish(id.slot, ErrCanceled, true)
	default:
		return false
	}
	return true
}

// Status reports the state of the task identified by id. Stale IDs report
// StatusCompleted. It must be called on the loop goroutine.
func (rt *Runtime) Status(id TaskID) TaskStatus {
	t := rt.lookup(id)
	if t == nil {
		return StatusCompleted
	}
	return t.state
}

// Live returns the number of tasks that have not completed. It must be
// called on the loop goroutine.
func (rt *Runtime) Live() int { return rt.live }

func (rt *Runtime) lookup(id TaskID) *taskSlot {
	if int(id.slot) >= len(rt.tasks) {
		return nil
	}
	t := &rt.tasks[id.slot]
	if t.gen != id.gen || t.state == statusFree {
		return nil
	}
	return t
}

// DrainReady runs one drain pass outside of HandleEvent, returning the
// number of tasks resumed. It must be called on the loop goroutine, and not
// from within a task.
func (rt *Runtime) DrainReady() int {
	if !rt.isLoopThread() || rt.draining {
		return 0
	}
	rt.now = rt.clock.Now()
	return rt.drain()
}

// drain resumes each task that is ready at the start of the pass exactly
// once, in FIFO order. Tasks readied during the pass run in the next one.
func (rt *Runtime) drain() int {
	rt.draining = true
	n := rt.ready.n
	var start time.Time
	if rt.metrics != nil {
		rt.metrics.Ready.Update(n)
		start = time.Now()
	}
	var resumed int
	for i := 0; i < n; i++ {
		slot, _ := rt.ready.pop()
		t := &rt.tasks[slot]
		if t.canceled {
			rt.finish(slot, ErrCanceled, true)
			continue
		}
		rt.resume(slot)
		resumed++
	}
	rt.draining = false
	rt.stats.drains.Add(1)
	if rt.metrics != nil {
		rt.metrics.DrainLatency.Record(time.Since(start))
	}
	return resumed
}

func (rt *Runtime) resume(slot uint32) {
	t := &rt.tasks[slot]
	rt.clearInterest(slot)
	t.epoch++
	t.armed.Store(t.epoch)
	t.state = StatusRunning
	rt.running = int32(slot)
	t.cx = Context{rt: rt, epoch: t.epoch, slot: slot, gen: t.gen}
	rt.stats.resumes.Add(1)

	poll, err := rt.safeResume(t.comp, &t.cx)

	rt.running = -1
	t.eventSeq = 0
	switch {
	case t.canceled && err == nil && poll == Pending:
		rt.finish(slot, ErrCanceled, true)
	case t.canceled && err == nil:
		rt.finish(slot, ErrCanceled, false)
	case err != nil || poll == Done:
		rt.finish(slot, err, false)
	case t.rewake:
		t.rewake = false
		t.state = StatusReady
		rt.ready.push(slot)
	default:
		t.state = StatusSuspended
	}
}

// safeResume executes a computation with panic recovery.
func (rt *Runtime) safeResume(c Computation, cx *Context) (p Poll, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = Done, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return c.Resume(cx)
}

// clearInterest drops the timer and waiter registrations of the slot's
// previous suspension.
func (rt *Runtime) clearInterest(slot uint32) {
	t := &rt.tasks[slot]
	if !t.timer.IsZero() {
		rt.timers.Cancel(t.timer)
		t.timer = timerq.Handle{}
	}
	if t.waitMask != 0 {
		rt.unwait(slot)
	}
}

// finish completes the task in slot, releases the slot, then notifies any
// join.
func (rt *Runtime) finish(slot uint32, err error, discard bool) {
	t := &rt.tasks[slot]
	comp, join := t.comp, t.join
	id := TaskID{slot: slot, gen: t.gen}
	rt.clearInterest(slot)
	rt.release(slot)

	switch {
	case err == nil:
		rt.stats.completed.Add(1)
	case errors.Is(err, ErrCanceled), errors.Is(err, ErrRuntimeClosed):
		rt.stats.canceled.Add(1)
	default:
		rt.stats.failed.Add(1)
		rt.logFailure(comp, id, err)
	}

	if discard {
		if d, ok := comp.(Discarder); ok {
			d.Discard()
		}
	}
	if join != nil {
		join.complete(err)
	}
}

func (rt *Runtime) release(slot uint32) {
	t := &rt.tasks[slot]
	t.gen++
	if t.gen == 0 {
		t.gen = 1
	}
	t.epoch++
	t.armed.Store(0)
	t.comp = nil
	t.join = nil
	t.eventSeq = 0
	t.state = statusFree
	t.canceled = false
	t.rewake = false
	t.nextFree = rt.free
	rt.free = int32(slot)
	rt.live--
}

// markReady transitions a woken task to ready. The caller must have
// consumed the slot's armed epoch.
func (rt *Runtime) markReady(slot uint32) {
	t := &rt.tasks[slot]
	switch t.state {
	case StatusSuspended:
		t.state = StatusReady
		rt.ready.push(slot)
	case StatusRunning:
		t.rewake = true
	}
}
