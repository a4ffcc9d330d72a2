package readiness

import (
	"context"
	"time"
)

// PageResource is a live page owned by some rendering engine.
// The detector only reads from it.
type PageResource interface {
	// Query runs the probe and returns its raw string answer. It may take
	// as long as the engine needs, but must return once ctx is done.
	// Errors wrapping ErrResourceUnavailable end the session; any other
	// error is treated as a transient failure.
	Query(ctx context.Context, probe string) (string, error)

	// Serialize returns the page's current full HTML.
	Serialize(ctx context.Context) (string, error)
}

// CaptureSink receives the single result of a session.
type CaptureSink interface {
	OnFinalized(content string, reason Reason)
}

// SinkFunc adapts a function to CaptureSink.
type SinkFunc func(content string, reason Reason)

// OnFinalized calls f.
func (f SinkFunc) OnFinalized(content string, reason Reason) {
	f(content, reason)
}

// Logger is the subset of logging.Logger the detector writes to.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}

// Clock supplies monotonic time and timers. Tests swap it for a fake.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the part of *time.Timer the session needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
