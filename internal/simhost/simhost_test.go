package simhost_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hostloop "github.com/joeycumines/go-hostloop"
	"github.com/joeycumines/go-hostloop/internal/simhost"
)

var start = time.Unix(1_700_000_000, 0)

func sleeper(d time.Duration, n int, then func(cx *hostloop.Context)) hostloop.Computation {
	s := hostloop.Sleep(d)
	var count int
	return hostloop.ComputationFunc(func(cx *hostloop.Context) (hostloop.Poll, error) {
		for {
			ok, err := s.Poll(cx)
			if err != nil || !ok {
				return hostloop.Pending, err
			}
			count++
			if count == n {
				then(cx)
				return hostloop.Done, nil
			}
			s = hostloop.Sleep(d)
		}
	})
}

func TestHost_ManualClockSleeps(t *testing.T) {
	clock := simhost.NewManualClock(start)
	host := simhost.New(8, clock)
	var flows []hostloop.FlowMode
	host.OnFlow = func(flow hostloop.ControlFlow) { flows = append(flows, flow.Mode) }

	rt, err := hostloop.New(host, hostloop.WithClock(host.Clock()))
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Spawn(sleeper(100*time.Millisecond, 3, func(cx *hostloop.Context) {
		cx.Runtime().Exit(7)
	}))
	require.NoError(t, err)

	code, err := host.Run(context.Background(), rt)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, start.Add(300*time.Millisecond), clock.Now())
	assert.Contains(t, flows, hostloop.FlowWaitUntil)
	assert.Equal(t, hostloop.FlowExit, flows[len(flows)-1])
}

func TestHost_RealTime(t *testing.T) {
	host := simhost.New(8, nil)
	assert.Nil(t, host.Clock())

	rt, err := hostloop.New(host)
	require.NoError(t, err)
	defer rt.Close()

	began := time.Now()
	_, err = rt.Spawn(sleeper(5*time.Millisecond, 2, func(cx *hostloop.Context) {
		cx.Runtime().Exit(1)
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := host.Run(ctx, rt)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.GreaterOrEqual(t, time.Since(began), 10*time.Millisecond)
}

func TestHost_SpawnAnywhereWhileWaiting(t *testing.T) {
	host := simhost.New(8, simhost.NewManualClock(start))
	rt, err := hostloop.New(host, hostloop.WithClock(host.Clock()))
	require.NoError(t, err)
	defer rt.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = rt.SpawnAnywhere(hostloop.ComputationFunc(func(cx *hostloop.Context) (hostloop.Poll, error) {
			cx.Runtime().Exit(3)
			return hostloop.Done, nil
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := host.Run(ctx, rt)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestHost_ForwardedEvents(t *testing.T) {
	host := simhost.New(8, simhost.NewManualClock(start))
	rt, err := hostloop.New(host, hostloop.WithClock(host.Clock()))
	require.NoError(t, err)
	defer rt.Close()

	var keys []any
	_, err = rt.Spawn(hostloop.OnEvent(hostloop.EventForward, func(ev *hostloop.HostEvent) bool {
		keys = append(keys, ev.Payload)
		if ev.Payload == "q" {
			rt.Exit(0)
			return false
		}
		return true
	}))
	require.NoError(t, err)
	// registers the listener's interest
	rt.DrainReady()

	for _, k := range []string{"a", "b", "q"} {
		require.NoError(t, host.Post(hostloop.HostEvent{Kind: hostloop.EventForward, Payload: k}))
	}

	code, err := host.Run(context.Background(), rt)
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Equal(t, []any{"a", "b", "q"}, keys)
}

func TestHost_ContextCanceled(t *testing.T) {
	host := simhost.New(8, nil)
	rt, err := hostloop.New(host)
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = host.Run(ctx, rt)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHost_PostQueueFull(t *testing.T) {
	host := simhost.New(1, nil)
	require.NoError(t, host.Post(hostloop.HostEvent{}))
	assert.ErrorIs(t, host.Post(hostloop.HostEvent{}), simhost.ErrQueueFull)
}

func TestManualClock(t *testing.T) {
	c := simhost.NewManualClock(start)
	c.Advance(time.Second)
	assert.Equal(t, start.Add(time.Second), c.Now())
	c.Set(start)
	assert.Equal(t, start.Add(time.Second), c.Now(), "never moves backwards")
	c.Set(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())
}
