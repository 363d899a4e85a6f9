package hostloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepTwice suspends on a timer once, then completes.
type sleepTwice struct {
	slept bool
}

func (s *sleepTwice) Resume(cx *Context) (Poll, error) {
	if s.slept {
		return Done, nil
	}
	s.slept = true
	return Pending, cx.SleepUntil(cx.Now().Add(time.Millisecond))
}

// wakeSelf suspends twice, waking itself via its waker.
type wakeSelf struct {
	n int
}

func (w *wakeSelf) Resume(cx *Context) (Poll, error) {
	w.n++
	if w.n < 3 {
		cx.Waker().Wake()
		return Pending, nil
	}
	return Done, nil
}

func TestRuntime_SteadyStateZeroAllocs(t *testing.T) {
	rt, _, clock := newTestRuntime(t, WithTaskCapacity(16), WithTimerCapacity(16))

	sleeper := &sleepTwice{}
	waker := &wakeSelf{}
	run := func() {
		*sleeper = sleepTwice{}
		*waker = wakeSelf{}
		if _, err := rt.Spawn(sleeper); err != nil {
			panic(err)
		}
		if _, err := rt.Spawn(waker); err != nil {
			panic(err)
		}
		for rt.Live() != 0 {
			clock.Advance(time.Millisecond)
			rt.HandleEvent(wakeEvent)
		}
	}
	run()
	require.Zero(t, rt.Live())

	assert.Zero(t, testing.AllocsPerRun(100, run))
}
