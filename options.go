// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package hostloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	defaultTaskCapacity     = 1024
	defaultTimerCapacity    = 1024
	defaultSpawnQueueSize   = 256
	maxTaskCapacity         = 1 << 24
	defaultFailureLogWindow = time.Second
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	clock           Clock
	logger          *logiface.Logger[logiface.Event]
	failureLogRates map[time.Duration]int
	taskCapacity    int
	timerCapacity   int
	spawnQueueSize  int
	metricsEnabled  bool
}

// Option configures a Runtime instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithTaskCapacity sets the number of task slots. All slots are allocated
// up front, and Spawn fails with ErrTaskCapacityExceeded once they are all
// live. Defaults to 1024.
func WithTaskCapacity(n int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if n <= 0 || n > maxTaskCapacity {
			return &ConfigError{Option: "WithTaskCapacity", Message: fmt.Sprintf("must be in (0, %d], got %d", maxTaskCapacity, n)}
		}
		opts.taskCapacity = n
		return nil
	}}
}

// WithTimerCapacity sets the number of timers that may be pending at once.
// Defaults to 1024.
func WithTimerCapacity(n int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if n <= 0 {
			return &ConfigError{Option: "WithTimerCapacity", Message: fmt.Sprintf("must be positive, got %d", n)}
		}
		opts.timerCapacity = n
		return nil
	}}
}

// WithSpawnQueueSize bounds the number of SpawnAnywhere requests that may be
// in flight from other goroutines. It is rounded up to a power of two.
// Defaults to 256.
func WithSpawnQueueSize(n int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if n <= 0 {
			return &ConfigError{Option: "WithSpawnQueueSize", Message: fmt.Sprintf("must be positive, got %d", n)}
		}
		opts.spawnQueueSize = n
		return nil
	}}
}

// WithClock sets the clock used for timer deadlines. It should be monotonic.
// Defaults to the system clock.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if clock == nil {
			return &ConfigError{Option: "WithClock", Message: "nil clock"}
		}
		opts.clock = clock
		return nil
	}}
}

// WithLogger sets the logger. A nil logger disables logging, which is also
// the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFailureLogRates rate limits the logging of task failures, per
// computation type, using windowed limits as accepted by
// [catrate.NewLimiter]. A nil or empty map disables rate limiting.
// Defaults to 10 per second.
//
// [catrate.NewLimiter]: https://pkg.go.dev/github.com/joeycumines/go-catrate#NewLimiter
func WithFailureLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		if len(rates) != 0 {
			if err := validateRates(rates); err != nil {
				return &ConfigError{Option: "WithFailureLogRates", Cause: err}
			}
		}
		opts.failureLogRates = rates
		return nil
	}}
}

// WithMetrics enables collection of drain latency and ready queue depth,
// accessible via Runtime.Metrics. This adds two clock reads and two mutex
// acquisitions per drain pass.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		clock:           systemClock{},
		failureLogRates: map[time.Duration]int{defaultFailureLogWindow: 10},
		taskCapacity:    defaultTaskCapacity,
		timerCapacity:   defaultTimerCapacity,
		spawnQueueSize:  defaultSpawnQueueSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
