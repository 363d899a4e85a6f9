package hostloop

import (
	"testing"
	"time"

	"code.hybscloud.com/kont"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectTask_SleepThenEvent(t *testing.T) {
	rt, _, clock := newTestRuntime(t)

	prog := kont.Bind(SleepEff(10*time.Millisecond), func(struct{}) kont.Eff[int] {
		return kont.Bind(EventEff(EventForward), func(ev HostEvent) kont.Eff[int] {
			return kont.Pure(ev.Payload.(int) * 2)
		})
	})
	task := FromEff(prog)
	var j Join
	_, err := rt.SpawnJoin(task, &j)
	require.NoError(t, err)

	flow := rt.HandleEvent(wakeEvent)
	assert.Equal(t, FlowWaitUntil, flow.Mode)
	assert.Equal(t, testEpoch.Add(10*time.Millisecond), flow.Deadline)

	// not yet awaiting, so dropped
	rt.HandleEvent(HostEvent{Kind: EventForward, Payload: 1})

	clock.Advance(10 * time.Millisecond)
	flow = rt.HandleEvent(wakeEvent)
	assert.Equal(t, FlowWait, flow.Mode)
	_, done := task.Result()
	assert.False(t, done)

	rt.HandleEvent(HostEvent{Kind: EventRedraw})
	assert.False(t, j.Done())

	rt.HandleEvent(HostEvent{Kind: EventForward, Payload: 21})
	require.True(t, j.Done())
	assert.NoError(t, j.Err())
	result, done := task.Result()
	assert.True(t, done)
	assert.Equal(t, 42, result)
}

func TestEffectTask_Deadline(t *testing.T) {
	rt, _, clock := newTestRuntime(t)

	task := FromEff(kont.Then(UntilEff(testEpoch.Add(time.Second)), kont.Pure("woke")))
	_, err := rt.Spawn(task)
	require.NoError(t, err)

	flow := rt.HandleEvent(wakeEvent)
	assert.Equal(t, testEpoch.Add(time.Second), flow.Deadline)

	clock.Advance(time.Second)
	rt.HandleEvent(wakeEvent)
	result, done := task.Result()
	assert.True(t, done)
	assert.Equal(t, "woke", result)
}

func TestEffectTask_PureCompletesOnFirstResume(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	task := FromEff(kont.Pure(7))
	_, err := rt.Spawn(task)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.DrainReady())
	result, done := task.Result()
	assert.True(t, done)
	assert.Equal(t, 7, result)
}

func TestEffectTask_YieldInterleaves(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	var trace []string
	step := func(name string) kont.Eff[struct{}] {
		return kont.Bind(kont.Pure(name), func(name string) kont.Eff[struct{}] {
			trace = append(trace, name)
			return YieldEff()
		})
	}
	a := FromEff(kont.Then(step("a1"), kont.Then(step("a2"), kont.Pure(struct{}{}))))
	b := FromEff(kont.Then(step("b1"), kont.Then(step("b2"), kont.Pure(struct{}{}))))
	_, err := rt.Spawn(a)
	require.NoError(t, err)
	_, err = rt.Spawn(b)
	require.NoError(t, err)

	for i := 0; i < 5 && rt.Live() != 0; i++ {
		rt.DrainReady()
	}
	assert.Zero(t, rt.Live())
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, trace)
}

type unknownOp struct {
	kont.Phantom[struct{}]
}

func TestEffectTask_UnhandledEffect(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	task := FromEff(kont.Then(kont.Perform(unknownOp{}), kont.Pure(0)))
	var j Join
	_, err := rt.SpawnJoin(task, &j)
	require.NoError(t, err)
	rt.DrainReady()

	require.True(t, j.Done())
	assert.ErrorIs(t, j.Err(), ErrUnhandledEffect)
	assert.Contains(t, j.Err().Error(), "unknownOp")
	_, done := task.Result()
	assert.False(t, done)
}

func TestEffectTask_CancelDiscards(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	task := FromEff(kont.Then(EventEff(EventRedraw), kont.Pure(1)))
	var j Join
	id, err := rt.SpawnJoin(task, &j)
	require.NoError(t, err)
	rt.DrainReady()
	require.NotNil(t, task.susp)

	require.True(t, rt.Cancel(id))
	assert.Nil(t, task.susp)
	assert.ErrorIs(t, j.Err(), ErrCanceled)
	_, done := task.Result()
	assert.False(t, done)
}
