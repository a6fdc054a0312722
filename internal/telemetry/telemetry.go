// Package telemetry is the metrics façade: every other component calls
// Counter/Histogram/Timer through this interface, and a missing backend
// (Noop) never affects correctness or latency.
package telemetry

import "time"

// Facade is the metrics surface every component depends on. Implementations
// must tolerate nil label maps and must never block or panic.
type Facade interface {
	Counter(name string, labels map[string]string, delta float64)
	Histogram(name string, labels map[string]string, value float64)
	// Timer starts a measurement and returns a stop function that records
	// the elapsed seconds as a histogram observation. The stop function is
	// safe to call from a defer on every exit path, including panic
	// recovery and early return.
	Timer(name string, labels map[string]string) (stop func())
}

// Noop is the zero-value default: every call is a no-op. A nil *Noop is
// also valid to call through, so a component that forgets to wire a
// backend still behaves correctly.
type Noop struct{}

func (*Noop) Counter(string, map[string]string, float64)   {}
func (*Noop) Histogram(string, map[string]string, float64) {}

func (*Noop) Timer(string, map[string]string) (stop func()) { return func() {} }

// Default is shared by components that accept an optional Facade and were
// not given one, so callers never need a nil check before use.
var Default Facade = &Noop{}

// WithDefault returns f, or Default when f is nil.
func WithDefault(f Facade) Facade {
	if f == nil {
		return Default
	}
	return f
}

// nowFunc is overridden in tests.
var nowFunc = time.Now

// StartTimer is a convenience for implementations of Facade.Timer: it
// returns a stop func that reports the elapsed seconds via record.
func StartTimer(record func(seconds float64)) func() {
	start := nowFunc()
	done := false
	return func() {
		if done {
			return
		}
		done = true
		record(nowFunc().Sub(start).Seconds())
	}
}
