package readiness

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detector creates detection sessions. It holds no per-session state and
// is safe for concurrent use.
type Detector struct {
	clock Clock
	log   Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) DetectorOption {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger routes session logs to l.
func WithLogger(l Logger) DetectorOption {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDetector creates a detector using the real clock and no logging
// unless overridden.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		clock: realClock{},
		log:   nopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewSession validates the inputs and returns an idle session.
func (d *Detector) NewSession(resource PageResource, opts Options, sink CaptureSink) (*Session, error) {
	if resource == nil {
		return nil, &ConfigError{Field: "resource", Message: "is required"}
	}
	if sink == nil {
		return nil, &ConfigError{Field: "sink", Message: "is required"}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		id:       uuid.NewString(),
		resource: resource,
		sink:     sink,
		opts:     opts,
		clock:    d.clock,
		log:      d.log,
		state:    StateIdle,
		done:     make(chan struct{}),
	}, nil
}

// StartDetection creates a session and starts polling. Configuration
// errors are returned synchronously; the sink is called later, exactly
// once, from the session goroutine.
func (d *Detector) StartDetection(ctx context.Context, resource PageResource, opts Options, sink CaptureSink) (*Session, error) {
	sess, err := d.NewSession(resource, opts, sink)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Detect is StartDetection with default options and the given budget.
func (d *Detector) Detect(ctx context.Context, resource PageResource, maxWait time.Duration, onFinalized func(content string, reason Reason)) (*Session, error) {
	opts := DefaultOptions()
	opts.MaxWait = maxWait
	if onFinalized == nil {
		return nil, &ConfigError{Field: "sink", Message: "is required"}
	}
	return d.StartDetection(ctx, resource, opts, SinkFunc(onFinalized))
}
