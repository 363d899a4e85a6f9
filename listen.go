package hostloop

// OnEvent returns a Computation that calls fn with each event of the given
// kind, until fn returns false.
func OnEvent(kind EventKind, fn func(ev *HostEvent) bool) Computation {
	return &listener{fn: fn, kind: kind}
}

// OnceEvent returns a Computation that completes on the first event of the
// given kind for which fn returns true. A nil fn accepts any event.
func OnceEvent(kind EventKind, fn func(ev *HostEvent) bool) Computation {
	return &listener{fn: fn, kind: kind, once: true}
}

type listener struct {
	fn   func(ev *HostEvent) bool
	kind EventKind
	once bool
}

func (l *listener) Resume(cx *Context) (Poll, error) {
	if ev, ok := cx.Event(); ok && ev.Kind == l.kind {
		matched := l.fn == nil || l.fn(&ev)
		if matched == l.once {
			return Done, nil
		}
	}
	cx.Await(l.kind)
	return Pending, nil
}
