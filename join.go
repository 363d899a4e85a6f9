package hostloop

// Join observes the completion of a task spawned with SpawnJoin. It is
// owned by the caller, and may be reused once its task has completed.
//
// A Join may be awaited by at most one task at a time. It must only be
// accessed on the loop goroutine.
type Join struct {
	err   error
	waker Waker
	id    TaskID
	done  bool
}

// ID returns the task most recently spawned with j.
func (j *Join) ID() TaskID { return j.id }

// Done reports whether the task has completed.
func (j *Join) Done() bool { return j.done }

// Err returns the task's result: nil on success, ErrCanceled or
// ErrRuntimeClosed if it was cancelled, a *PanicError if it panicked, or the
// error it returned.
func (j *Join) Err() error { return j.err }

// Poll reports whether the task has completed, and if so its result.
// Otherwise, the calling task will be woken on completion.
func (j *Join) Poll(cx *Context) (bool, error) {
	if j.done {
		return true, j.err
	}
	j.waker = cx.Waker()
	return false, nil
}

func (j *Join) reset(id TaskID) {
	*j = Join{id: id}
}

func (j *Join) complete(err error) {
	j.done = true
	j.err = err
	w := j.waker
	j.waker = Waker{}
	w.Wake()
}
