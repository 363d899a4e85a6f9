// Package timerq implements a fixed-capacity deadline queue.
//
// All storage is allocated by [New]. Schedule, Cancel and the pop operations
// never allocate, which makes the queue suitable for use on the host loop's
// hot path. Entries are ordered by deadline, and entries sharing a deadline
// are ordered by insertion (FIFO).
package timerq

import (
	"errors"
	"time"
)

// ErrCapacityExceeded is returned by [Queue.Schedule] when the queue is full.
var ErrCapacityExceeded = errors.New("timerq: capacity exceeded")

// Handle identifies a scheduled entry. The zero value never matches an entry.
//
// A handle becomes stale once its entry fires or is cancelled, after which it
// is safe (and a no-op) to pass it to [Queue.Cancel].
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Expired is an entry removed from the queue because its deadline passed.
type Expired[T any] struct {
	Deadline time.Time
	Value    T
	Handle   Handle
}

type entry[T any] struct {
	deadline time.Time
	value    T
	seq      uint64
	gen      uint32
	// pos is the entry's index in the heap, or -1 if the slot is free.
	pos int32
	// next links free slots.
	next int32
}

// Queue is a binary min-heap of slot indexes, with the slots held in a
// separate fixed array so that handles stay valid while the heap reorders.
//
// A Queue is not safe for concurrent use.
type Queue[T any] struct {
	entries []entry[T]
	heap    []int32
	seq     uint64
	free    int32
}

// New allocates a queue able to hold capacity pending entries.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue[T]{
		entries: make([]entry[T], capacity),
		heap:    make([]int32, 0, capacity),
		free:    -1,
	}
	for i := capacity - 1; i >= 0; i-- {
		q.entries[i] = entry[T]{gen: 1, pos: -1, next: q.free}
		q.free = int32(i)
	}
	return q
}

// Len returns the number of pending entries.
func (q *Queue[T]) Len() int { return len(q.heap) }

// Cap returns the maximum number of pending entries.
func (q *Queue[T]) Cap() int { return len(q.entries) }

// Schedule inserts value with the given deadline.
func (q *Queue[T]) Schedule(deadline time.Time, value T) (Handle, error) {
	if q.free < 0 {
		return Handle{}, ErrCapacityExceeded
	}
	i := q.free
	e := &q.entries[i]
	q.free = e.next
	q.seq++
	e.deadline = deadline
	e.value = value
	e.seq = q.seq
	e.next = -1
	e.pos = int32(len(q.heap))
	q.heap = append(q.heap, i)
	q.up(int(e.pos))
	return Handle{index: uint32(i), gen: e.gen}, nil
}

// Cancel removes the entry identified by h, returning false if it already
// fired, was already cancelled, or h is otherwise stale.
func (q *Queue[T]) Cancel(h Handle) bool {
	if int(h.index) >= len(q.entries) {
		return false
	}
	e := &q.entries[h.index]
	if e.gen != h.gen || e.pos < 0 {
		return false
	}
	q.removeAt(int(e.pos))
	return true
}

// Next returns the earliest pending deadline.
func (q *Queue[T]) Next() (time.Time, bool) {
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.entries[q.heap[0]].deadline, true
}

// Due reports whether at least one entry has a deadline at or before now.
func (q *Queue[T]) Due(now time.Time) bool {
	return len(q.heap) != 0 && !q.entries[q.heap[0]].deadline.After(now)
}

// Pop removes and returns the earliest entry, if its deadline is at or
// before now.
func (q *Queue[T]) Pop(now time.Time) (Expired[T], bool) {
	if !q.Due(now) {
		return Expired[T]{}, false
	}
	i := q.heap[0]
	e := &q.entries[i]
	x := Expired[T]{Deadline: e.deadline, Value: e.value, Handle: Handle{index: uint32(i), gen: e.gen}}
	q.removeAt(0)
	return x, true
}

// PopExpired removes every entry with a deadline at or before now, appending
// them to dst in firing order. It does not allocate if dst has sufficient
// capacity.
func (q *Queue[T]) PopExpired(now time.Time, dst []Expired[T]) []Expired[T] {
	for {
		x, ok := q.Pop(now)
		if !ok {
			return dst
		}
		dst = append(dst, x)
	}
}

func (q *Queue[T]) removeAt(pos int) {
	i := q.heap[pos]
	last := len(q.heap) - 1
	if pos != last {
		q.swap(pos, last)
	}
	q.heap = q.heap[:last]
	if pos != last {
		if !q.down(pos) {
			q.up(pos)
		}
	}
	e := &q.entries[i]
	var zero T
	e.value = zero
	e.pos = -1
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.next = q.free
	q.free = i
}

func (q *Queue[T]) less(a, b int) bool {
	x, y := &q.entries[q.heap[a]], &q.entries[q.heap[b]]
	if x.deadline.Equal(y.deadline) {
		return x.seq < y.seq
	}
	return x.deadline.Before(y.deadline)
}

func (q *Queue[T]) swap(a, b int) {
	q.heap[a], q.heap[b] = q.heap[b], q.heap[a]
	q.entries[q.heap[a]].pos = int32(a)
	q.entries[q.heap[b]].pos = int32(b)
}

func (q *Queue[T]) up(j int) {
	for j > 0 {
		i := (j - 1) / 2
		if !q.less(j, i) {
			break
		}
		q.swap(i, j)
		j = i
	}
}

func (q *Queue[T]) down(i0 int) bool {
	n := len(q.heap)
	i := i0
	for {
		j := 2*i + 1
		if j >= n {
			break
		}
		if r := j + 1; r < n && q.less(r, j) {
			j = r
		}
		if !q.less(j, i) {
			break
		}
		q.swap(i, j)
		i = j
	}
	return i > i0
}
