package hostloop

import (
	"fmt"
	"time"

	"code.hybscloud.com/kont"
)

// Delay is the effect operation for suspending for a duration.
// Perform(Delay{D: d}) resumes once d has elapsed.
type Delay struct {
	kont.Phantom[struct{}]
	D time.Duration
}

// Deadline is the effect operation for suspending until a point in time.
// Perform(Deadline{At: t}) resumes once t has been reached.
type Deadline struct {
	kont.Phantom[struct{}]
	At time.Time
}

// NextEvent is the effect operation for awaiting a host event.
// Perform(NextEvent{Kind: k}) resumes with the next event of kind k,
// dispatched after the operation is performed.
type NextEvent struct {
	kont.Phantom[HostEvent]
	Kind EventKind
}

// Yield is the effect operation for yielding to other ready tasks.
// Perform(Yield{}) resumes in the following drain pass.
type Yield struct {
	kont.Phantom[struct{}]
}

// SleepEff performs Delay{D: d}.
func SleepEff(d time.Duration) kont.Eff[struct{}] {
	return kont.Perform(Delay{D: d})
}

// UntilEff performs Deadline{At: t}.
func UntilEff(t time.Time) kont.Eff[struct{}] {
	return kont.Perform(Deadline{At: t})
}

// EventEff performs NextEvent{Kind: kind}.
func EventEff(kind EventKind) kont.Eff[HostEvent] {
	return kont.Perform(NextEvent{Kind: kind})
}

// YieldEff performs Yield{}.
func YieldEff() kont.Eff[struct{}] {
	return kont.Perform(Yield{})
}

// EffectTask is a Computation that evaluates an effectful program, one
// effect at a time, interpreting the operations defined by this package.
// Any other operation fails the task with ErrUnhandledEffect.
type EffectTask[R any] struct {
	expr    kont.Expr[R]
	susp    *kont.Suspension[R]
	sleeper Sleeper
	result  R
	started bool
	// waiting is set once the current operation has registered interest.
	waiting bool
	done    bool
}

// FromEff returns a task evaluating m.
func FromEff[R any](m kont.Eff[R]) *EffectTask[R] {
	return FromExpr(kont.Reify(m))
}

// FromExpr returns a task evaluating m.
func FromExpr[R any](m kont.Expr[R]) *EffectTask[R] {
	return &EffectTask[R]{expr: m}
}

// Result returns the program's result, once it has completed.
func (t *EffectTask[R]) Result() (R, bool) {
	return t.result, t.done
}

// Resume implements Computation.
func (t *EffectTask[R]) Resume(cx *Context) (Poll, error) {
	if !t.started {
		t.started = true
		result, susp := kont.StepExpr(t.expr)
		if susp == nil {
			return t.complete(result)
		}
		t.susp = susp
	}
	for t.susp != nil {
		v, poll, err := t.dispatch(cx)
		if err != nil {
			t.Discard()
			return Done, err
		}
		if poll == Pending {
			return Pending, nil
		}
		t.waiting = false
		result, susp := t.susp.Resume(v)
		t.susp = susp
		if susp == nil {
			return t.complete(result)
		}
	}
	return Done, nil
}

// dispatch interprets the pending operation, returning Done with the resume
// value if it has been satisfied.
func (t *EffectTask[R]) dispatch(cx *Context) (kont.Resumed, Poll, error) {
	switch op := t.susp.Op().(type) {
	case Delay:
		if !t.waiting {
			t.sleeper = Sleep(op.D)
		}
		return t.sleep(cx)
	case Deadline:
		if !t.waiting {
			t.sleeper = SleepUntil(op.At)
		}
		return t.sleep(cx)
	case NextEvent:
		if t.waiting {
			if ev, ok := cx.Event(); ok && ev.Kind == op.Kind {
				return ev, Done, nil
			}
		}
		t.waiting = true
		cx.Await(op.Kind)
		return nil, Pending, nil
	case Yield:
		if t.waiting {
			return struct{}{}, Done, nil
		}
		t.waiting = true
		_, _ = cx.Yield()
		return nil, Pending, nil
	default:
		return nil, Done, fmt.Errorf("%w: %T", ErrUnhandledEffect, op)
	}
}

func (t *EffectTask[R]) sleep(cx *Context) (kont.Resumed, Poll, error) {
	t.waiting = true
	ok, err := t.sleeper.Poll(cx)
	if err != nil {
		return nil, Done, err
	}
	if !ok {
		return nil, Pending, nil
	}
	return struct{}{}, Done, nil
}

func (t *EffectTask[R]) complete(result R) (Poll, error) {
	t.result = result
	t.done = true
	return Done, nil
}

// Discard drops a pending suspension, without resuming it. The runtime
// calls it when the task is cancelled.
func (t *EffectTask[R]) Discard() {
	if t.susp != nil {
		t.susp.Discard()
		t.susp = nil
	}
}
