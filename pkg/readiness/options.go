package readiness

import (
	"fmt"
	"time"
)

// Default values for detection sessions
const (
	DefaultMaxWait          = 15 * time.Second
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultCapDelay         = 2 * time.Second
	DefaultQueryTimeout     = 5 * time.Second
	DefaultSerializeTimeout = 10 * time.Second

	// DefaultMaxQueryFailures of zero leaves transient failures to the deadline.
	DefaultMaxQueryFailures = 0
)

// Options configures one detection session.
//
// MaxWait is taken literally: a zero or negative value does not mean
// "use the default". It selects forced mode, where exactly one query is
// issued and the session finalizes with ReasonDeadline. Start from
// DefaultOptions and override fields as needed.
type Options struct {
	// MaxWait is the total budget, measured from session start
	MaxWait time.Duration

	// BaseDelay is multiplied by the attempt number to get the next delay
	BaseDelay time.Duration

	// CapDelay bounds the delay between attempts
	CapDelay time.Duration

	// QueryTimeout bounds a single query; the remaining budget bounds it too
	QueryTimeout time.Duration

	// SerializeTimeout bounds the final content read
	SerializeTimeout time.Duration

	// MaxQueryFailures finalizes with ReasonError after this many
	// consecutive transient failures; zero disables the cap
	MaxQueryFailures int

	// Probe is the predicate script passed to PageResource.Query
	Probe string

	// OnAttempt, when set, observes every attempt on the session goroutine
	OnAttempt func(Attempt)
}

// DefaultOptions returns options populated with the package defaults.
func DefaultOptions() Options {
	return Options{
		MaxWait:          DefaultMaxWait,
		BaseDelay:        DefaultBaseDelay,
		CapDelay:         DefaultCapDelay,
		QueryTimeout:     DefaultQueryTimeout,
		SerializeTimeout: DefaultSerializeTimeout,
		MaxQueryFailures: DefaultMaxQueryFailures,
		Probe:            DefaultProbe,
	}
}

// Forced reports whether the session skips polling entirely.
func (o Options) Forced() bool {
	return o.MaxWait <= 0
}

// Validate rejects options that cannot describe a sensible backoff.
// Nothing is clamped.
func (o Options) Validate() error {
	if o.BaseDelay <= 0 {
		return &ConfigError{Field: "base_delay", Message: fmt.Sprintf("must be positive, got %s", o.BaseDelay)}
	}
	if o.CapDelay <= 0 {
		return &ConfigError{Field: "cap_delay", Message: fmt.Sprintf("must be positive, got %s", o.CapDelay)}
	}
	if o.BaseDelay > o.CapDelay {
		return &ConfigError{Field: "base_delay", Message: fmt.Sprintf("%s exceeds cap_delay %s", o.BaseDelay, o.CapDelay)}
	}
	if o.QueryTimeout <= 0 {
		return &ConfigError{Field: "query_timeout", Message: fmt.Sprintf("must be positive, got %s", o.QueryTimeout)}
	}
	if o.SerializeTimeout <= 0 {
		return &ConfigError{Field: "serialize_timeout", Message: fmt.Sprintf("must be positive, got %s", o.SerializeTimeout)}
	}
	if o.MaxQueryFailures < 0 {
		return &ConfigError{Field: "max_query_failures", Message: "cannot be negative"}
	}
	if o.Probe == "" {
		return &ConfigError{Field: "probe", Message: "is required"}
	}
	return nil
}
