package hostloop

import (
	"fmt"
	"reflect"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// logFailure logs a task failure at error level, limited per computation
// type by the configured failure rates.
func (rt *Runtime) logFailure(comp Computation, id TaskID, err error) {
	b := rt.logger.Err()
	if !b.Enabled() {
		return
	}
	if rt.failures != nil {
		if _, ok := rt.failures.Allow(reflect.TypeOf(comp)); !ok {
			b.Release()
			rt.stats.suppressedLogs.Add(1)
			return
		}
	}
	b = b.Err(err).
		Str(`task`, id.String()).
		Str(`computation`, fmt.Sprintf("%T", comp))
	if p, ok := err.(*PanicError); ok && len(p.Stack) != 0 {
		b = b.Str(`stack`, string(p.Stack))
	}
	b.Log(`task failed`)
}

// validateRates reports whether rates would be accepted by catrate.
func validateRates(rates map[time.Duration]int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	catrate.NewLimiter(rates)
	return nil
}
