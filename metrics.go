package hostloop

import (
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Stats is a snapshot of the runtime's counters.
type Stats struct {
	// Spawned counts tasks created.
	Spawned uint64
	// Completed counts tasks that finished without error.
	Completed uint64
	// Failed counts tasks that returned an error or panicked, and remote
	// spawns that were dropped.
	Failed uint64
	// Canceled counts tasks cancelled, or dropped by Close.
	Canceled uint64
	// Resumes counts calls to Computation.Resume.
	Resumes uint64
	// Drains counts drain passes.
	Drains uint64
	// TimersFired counts expired timers.
	TimersFired uint64
	// Wakes counts wakes that readied a task.
	Wakes uint64
	// RemoteWakes counts wakes delivered from other goroutines.
	RemoteWakes uint64
	// CoalescedWakes counts wakes that had no effect, as the suspension was
	// already woken or had ended.
	CoalescedWakes uint64
	// Posts counts EventWake posted to the host.
	Posts uint64
	// SuppressedLogs counts failure logs dropped by rate limiting.
	SuppressedLogs uint64
}

type stats struct {
	spawned        atomix.Uint64
	completed      atomix.Uint64
	failed         atomix.Uint64
	canceled       atomix.Uint64
	resumes        atomix.Uint64
	drains         atomix.Uint64
	timersFired    atomix.Uint64
	wakes          atomix.Uint64
	remoteWakes    atomix.Uint64
	coalescedWakes atomix.Uint64
	posts          atomix.Uint64
	suppressedLogs atomix.Uint64
}

// Stats returns a snapshot of the runtime's counters. It may be called from
// any goroutine.
func (rt *Runtime) Stats() Stats {
	s := &rt.stats
	return Stats{
		Spawned:        s.spawned.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Canceled:       s.canceled.Load(),
		Resumes:        s.resumes.Load(),
		Drains:         s.drains.Load(),
		TimersFired:    s.timersFired.Load(),
		Wakes:          s.wakes.Load(),
		RemoteWakes:    s.remoteWakes.Load(),
		CoalescedWakes: s.coalescedWakes.Load(),
		Posts:          s.posts.Load(),
		SuppressedLogs: s.suppressedLogs.Load(),
	}
}

// Metrics tracks drain latency and ready queue depth. It is only collected
// if enabled with WithMetrics.
//
// All Metrics methods are safe to call from any goroutine.
type Metrics struct {
	// DrainLatency is the wall time taken by each drain pass.
	DrainLatency LatencyMetrics
	// Ready is the ready queue depth, sampled at the start of each drain.
	Ready QueueMetrics
}

// LatencyMetrics tracks latency distribution with percentiles.
type LatencyMetrics struct {
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	// Computed percentiles (cached after Sample() call)
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Max time.Duration

	Mean time.Duration
	Sum  time.Duration
	mu   sync.RWMutex
}

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 1000

// Record records a latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.Sum -= l.samples[l.sampleIdx]
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from collected samples, updating the cached
// values, and returns the number of samples used.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}
	sorted := slices.Clone(l.samples[:count])
	slices.Sort(sorted)

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)
	return count
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// QueueMetrics tracks queue depth statistics.
type QueueMetrics struct {
	mu sync.RWMutex

	Current int
	Max     int
	// Avg is an exponential moving average with alpha=0.1, initialised to
	// the first observation.
	Avg float64

	initialized bool
}

// Update records an observed depth.
func (q *QueueMetrics) Update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.Current = depth
	if depth > q.Max {
		q.Max = depth
	}
	if !q.initialized {
		q.Avg = float64(depth)
		q.initialized = true
	} else {
		q.Avg = 0.9*q.Avg + 0.1*float64(depth)
	}
}

// Snapshot returns the current, maximum and average depth.
func (q *QueueMetrics) Snapshot() (current, maxDepth int, avg float64) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.Current, q.Max, q.Avg
}

// Metrics returns the runtime's metrics, or nil if not enabled.
func (rt *Runtime) Metrics() *Metrics {
	return rt.metrics
}
