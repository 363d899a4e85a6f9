package hostloop

import (
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-hostloop/internal/timerq"
)

// Runtime is a cooperative task runtime driven by a host event loop. See the
// package documentation for the execution model.
type Runtime struct { // betteralign:ignore
	state  fastState
	remote remoteQueue
	spawns spawnQueue
	stats  stats

	// posted is set while an EventWake posted via proxy is outstanding.
	posted atomix.Uint32
	// exitSet is set by the first call to Exit, which alone stores exitCode.
	exitSet  atomix.Uint32
	exitCode atomic.Int64

	proxy    Proxy
	clock    Clock
	logger   *logiface.Logger[logiface.Event]
	failures *catrate.Limiter
	metrics  *Metrics

	tasks   []taskSlot
	ready   readyRing
	timers  *timerq.Queue[wakeRef]
	expired []timerq.Expired[wakeRef]
	waiters [numEventKinds]waitList

	// event is the event being dispatched, valid while hasEvent is set.
	event HostEvent
	now   time.Time

	loopGoroutineID uint64
	// eventSeq identifies the most recent exposed event.
	eventSeq uint64

	live     int
	free     int32
	running  int32
	draining bool
	hasEvent bool
}

// New creates a Runtime bound to the calling goroutine, which must be the
// goroutine that runs the host loop, and calls HandleEvent. The proxy is
// used to post EventWake to the host, on behalf of other goroutines.
func New(proxy Proxy, opts ...Option) (*Runtime, error) {
	if proxy == nil {
		return nil, ErrNilProxy
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		proxy:           proxy,
		clock:           cfg.clock,
		logger:          cfg.logger,
		tasks:           make([]taskSlot, cfg.taskCapacity),
		ready:           readyRing{buf: make([]uint32, cfg.taskCapacity)},
		timers:          timerq.New[wakeRef](cfg.timerCapacity),
		expired:         make([]timerq.Expired[wakeRef], 0, cfg.timerCapacity),
		loopGoroutineID: getGoroutineID(),
		free:            -1,
		running:         -1,
	}
	if cfg.metricsEnabled {
		rt.metrics = &Metrics{}
	}
	if len(cfg.failureLogRates) != 0 {
		rt.failures = catrate.NewLimiter(cfg.failureLogRates)
	}
	for kind := range rt.waiters {
		rt.waiters[kind] = waitList{head: -1, tail: -1}
	}
	for i := len(rt.tasks) - 1; i >= 0; i-- {
		t := &rt.tasks[i]
		t.gen = 1
		t.nextFree = rt.free
		for kind := range t.waits {
			t.waits[kind] = waitLink{prev: -1, next: -1}
		}
		rt.free = int32(i)
	}
	rt.remote.init(cfg.taskCapacity)
	rt.spawns.init(cfg.spawnQueueSize)
	rt.now = rt.clock.Now()

	rt.logger.Debug().
		Int(`task_capacity`, cfg.taskCapacity).
		Int(`timer_capacity`, cfg.timerCapacity).
		Log(`runtime created`)

	return rt, nil
}

// State returns the lifecycle state. It may be called from any goroutine.
func (rt *Runtime) State() RuntimeState { return rt.state.Load() }

// HandleEvent processes one host event, and returns the host's next step.
// It must be called on the loop goroutine, and panics otherwise.
//
// Every kind first fires expired timers, then applies requests from other
// goroutines, then wakes the waiters of ev.Kind, and finally runs one drain
// pass. An EventSpawn also spawns ev.Spawn, before the drain. Unknown kinds
// are ignored.
//
// If the host calls HandleEvent from within a task, the drain pass is
// skipped, the event is not exposed via Context.Event, and FlowPoll is
// returned.
func (rt *Runtime) HandleEvent(ev HostEvent) ControlFlow {
	if !rt.isLoopThread() {
		panic(ErrNotLoopThread)
	}
	switch rt.state.Load() {
	case StateTerminating, StateTerminated:
		return rt.exitFlow()
	case StateAwake:
		rt.state.TryTransition(StateAwake, StateRunning)
	}

	switch ev.Kind {
	case EventWake:
		rt.posted.Store(0)
	case EventSpawn:
		if ev.Spawn != nil {
			if _, err := rt.spawn(ev.Spawn, nil); err != nil {
				rt.logger.Err().Err(err).Log(`failed to spawn from event`)
			}
		}
	case EventRedraw, EventForward:
	default:
		rt.logger.Debug().Str(`kind`, ev.Kind.String()).Log(`ignoring unknown event`)
		return rt.controlFlow()
	}

	rt.now = rt.clock.Now()
	rt.fireTimers()
	rt.drainRemote()

	if rt.draining {
		rt.notify(ev.Kind, false)
		return ControlFlow{Mode: FlowPoll}
	}

	rt.eventSeq++
	rt.event = ev
	rt.hasEvent = true
	rt.notify(ev.Kind, true)
	rt.drain()
	rt.event = HostEvent{}
	rt.hasEvent = false

	if s := rt.state.Load(); s == StateTerminating || s == StateTerminated {
		return rt.exitFlow()
	}
	return rt.controlFlow()
}

func (rt *Runtime) fireTimers() {
	if !rt.timers.Due(rt.now) {
		return
	}
	rt.expired = rt.timers.PopExpired(rt.now, rt.expired[:0])
	for i := range rt.expired {
		x := &rt.expired[i]
		t := &rt.tasks[x.Value.slot]
		if t.timer == x.Handle {
			t.timer = timerq.Handle{}
		}
		rt.wakeLocal(x.Value.slot, x.Value.epoch)
	}
	rt.stats.timersFired.Add(uint64(len(rt.expired)))
	clear(rt.expired)
}

func (rt *Runtime) controlFlow() ControlFlow {
	if rt.ready.n != 0 {
		return ControlFlow{Mode: FlowPoll}
	}
	if deadline, ok := rt.timers.Next(); ok {
		return ControlFlow{Mode: FlowWaitUntil, Deadline: deadline}
	}
	return ControlFlow{Mode: FlowWait}
}

func (rt *Runtime) exitFlow() ControlFlow {
	return ControlFlow{Mode: FlowExit, Code: int(rt.exitCode.Load())}
}

// NextDeadline returns the earliest pending timer deadline. It must be
// called on the loop goroutine.
func (rt *Runtime) NextDeadline() (time.Time, bool) {
	return rt.timers.Next()
}

// Exit requests that the host loop exit with the given code. It may be
// called from any goroutine. Subsequent calls to HandleEvent return
// FlowExit without running any tasks. Only the first call has any effect.
func (rt *Runtime) Exit(code int) {
	if rt.state.Load() >= StateTerminating || !rt.exitSet.CompareAndSwap(0, 1) {
		return
	}
	rt.exitCode.Store(int64(code))
	if !rt.state.TransitionAny([]RuntimeState{StateAwake, StateRunning}, StateTerminating) {
		return
	}
	rt.logger.Info().Int(`code`, code).Log(`exit requested`)
	rt.requestPoll()
}

// Close releases all tasks, completing any live task with ErrRuntimeClosed,
// and discarding queued spawns. It must be called on the loop goroutine, and
// not from within a task. Closing an already closed Runtime returns
// ErrRuntimeClosed.
func (rt *Runtime) Close() error {
	if !rt.isLoopThread() {
		return ErrNotLoopThread
	}
	if rt.draining {
		return ErrWithinTask
	}
	if rt.state.IsTerminal() {
		return ErrRuntimeClosed
	}
	rt.state.Store(StateTerminated)

	var closed int
	for slot := range rt.tasks {
		if rt.tasks[slot].state != statusFree {
			rt.finish(uint32(slot), ErrRuntimeClosed, true)
			closed++
		}
	}
	rt.ready.reset()
	rt.clearRemote()

	rt.logger.Debug().Int(`closed_tasks`, closed).Log(`runtime closed`)
	return nil
}
