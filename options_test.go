package hostloop

import (
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEvent is a minimal logiface.Event implementation.
type testEvent struct {
	logiface.UnimplementedEvent
	level logiface.Level
	msg   string
}

func (e *testEvent) Level() logiface.Level        { return e.level }
func (e *testEvent) AddField(key string, val any) {}
func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

func TestResolveOptions_Defaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTaskCapacity, cfg.taskCapacity)
	assert.Equal(t, defaultTimerCapacity, cfg.timerCapacity)
	assert.Equal(t, defaultSpawnQueueSize, cfg.spawnQueueSize)
	assert.Equal(t, map[time.Duration]int{time.Second: 10}, cfg.failureLogRates)
	assert.IsType(t, systemClock{}, cfg.clock)
	assert.Nil(t, cfg.logger)
	assert.False(t, cfg.metricsEnabled)
}

func TestResolveOptions_NilOptionSkipped(t *testing.T) {
	cfg, err := resolveOptions([]Option{nil, WithTaskCapacity(8), nil})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.taskCapacity)
}

func TestResolveOptions_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name   string
		opt    Option
		option string
	}{
		{"zero tasks", WithTaskCapacity(0), "WithTaskCapacity"},
		{"too many tasks", WithTaskCapacity(maxTaskCapacity + 1), "WithTaskCapacity"},
		{"negative timers", WithTimerCapacity(-1), "WithTimerCapacity"},
		{"zero spawn queue", WithSpawnQueueSize(0), "WithSpawnQueueSize"},
		{"nil clock", WithClock(nil), "WithClock"},
		{"non-monotonic rates", WithFailureLogRates(map[time.Duration]int{time.Second: 10, time.Minute: 5}), "WithFailureLogRates"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := New(newTestProxy(), tc.opt)
			assert.Nil(t, rt)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "%v", err)
			assert.Equal(t, tc.option, ce.Option)
			assert.Contains(t, err.Error(), tc.option)
		})
	}
}

func TestWithLogger(t *testing.T) {
	var messages []string
	logger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](logiface.EventFactoryFunc[*testEvent](func(level logiface.Level) *testEvent {
			return &testEvent{level: level}
		})),
		logiface.WithWriter[*testEvent](logiface.WriterFunc[*testEvent](func(e *testEvent) error {
			messages = append(messages, e.msg)
			return nil
		})),
		logiface.WithLevel[*testEvent](logiface.LevelDebug),
	).Logger()

	rt, _, _ := newTestRuntime(t, WithLogger(logger))
	assert.Equal(t, []string{"runtime created"}, messages)

	require.NoError(t, rt.Close())
	assert.Equal(t, []string{"runtime created", "runtime closed"}, messages)
}

func TestWithClock(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	rt, err := New(newTestProxy(), WithClock(ClockFunc(func() time.Time { return at })))
	require.NoError(t, err)
	defer rt.Close()

	var seen time.Time
	_, err = rt.Spawn(ComputationFunc(func(cx *Context) (Poll, error) {
		seen = cx.Now()
		return Done, nil
	}))
	require.NoError(t, err)
	rt.DrainReady()
	assert.Equal(t, at, seen)
}

func TestConfigError(t *testing.T) {
	cause := errors.New("cause")
	err := &ConfigError{Option: "WithX", Cause: cause}
	assert.Equal(t, "hostloop: WithX: invalid value: cause", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &ConfigError{Option: "WithY", Message: "bad"}
	assert.Equal(t, "hostloop: WithY: bad", err.Error())
	assert.NoError(t, err.Unwrap())
}

func TestNextPowerOfTwo(t *testing.T) {
	for in, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 255: 256, 256: 256, 1000: 1024} {
		assert.Equal(t, want, nextPowerOfTwo(in), "nextPowerOfTwo(%d)", in)
	}
}
