// Package hostloop provides a minimal cooperative task runtime that runs
// inside the single control goroutine of a host event loop, such as the
// event loop of a windowing toolkit.
//
// # Architecture
//
// A [Runtime] owns a fixed-capacity arena of tasks, a fixed-capacity timer
// queue, and one waiter list per [EventKind]. The host calls
// [Runtime.HandleEvent] once for every event it receives, including at
// least one synthetic [EventWake] per iteration, just before it would block.
// Each call:
//  1. Fires expired timers.
//  2. Applies wakes, cancellations and spawns requested from other goroutines.
//  3. Wakes the tasks waiting on the event's kind.
//  4. Resumes every task that was ready at the start of the pass, once each,
//     in arrival order.
//
// The returned [ControlFlow] tells the host whether to poll again
// immediately, sleep until the next timer deadline, sleep until the next
// event, or exit.
//
// Tasks are explicit state machines implementing [Computation]. A task that
// cannot make progress records its interest (a timer via [Context.SleepUntil],
// an event kind via [Context.Await], or a [Waker] handed to some other
// party) and returns [Pending]. Alternatively, task bodies may be written as
// effectful programs using [FromEff], with suspension points expressed as
// [Delay], [Deadline], [NextEvent] and [Yield] operations.
//
// Routine scheduling does not allocate: task slots, the ready queue, the
// timer queue and the waiter lists are all sized up front (see
// [WithTaskCapacity] and [WithTimerCapacity]).
//
// # Thread Safety
//
// A Runtime is bound to the goroutine that called [New]. Only the following
// may be called from other goroutines:
//   - [Waker.Wake]
//   - [Runtime.SpawnAnywhere]
//   - [Runtime.CancelAnywhere]
//   - [Runtime.Exit]
//   - [Runtime.Stats] and [Runtime.State]
//
// Requests from other goroutines are handed to the loop through bounded
// lock-free queues, and the host is nudged via [Proxy.Post], at most once per
// pending batch.
//
// # Usage
//
//	rt, err := hostloop.New(proxy, hostloop.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	_, _ = rt.Spawn(hostloop.ComputationFunc(func(cx *hostloop.Context) (hostloop.Poll, error) {
//	    ...
//	}))
//
//	for ev := range hostEvents {
//	    flow := rt.HandleEvent(ev)
//	    ...
//	}
package hostloop
