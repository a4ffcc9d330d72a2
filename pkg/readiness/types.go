package readiness

import (
	"strings"
	"time"
)

// Status is the coarse state a probe reports for a page at query time.
type Status string

const (
	// StatusDocumentNotReady means document.readyState is not "complete"
	StatusDocumentNotReady Status = "document_not_ready"

	// StatusAsyncWorkPending means XHR/AJAX requests are still in flight
	StatusAsyncWorkPending Status = "ajax_loading"

	// StatusResourcesLoading means images or other subresources are incomplete
	StatusResourcesLoading Status = "images_loading"

	// StatusCustomConditionPending means the page's own readiness hook said no
	StatusCustomConditionPending Status = "custom_loading"

	// StatusReady means every check passed
	StatusReady Status = "ready"
)

// ParseStatus maps a raw probe result onto the closed status set.
// Anything unrecognized is treated as StatusDocumentNotReady.
func ParseStatus(raw string) Status {
	switch s := Status(strings.TrimSpace(raw)); s {
	case StatusDocumentNotReady, StatusAsyncWorkPending, StatusResourcesLoading,
		StatusCustomConditionPending, StatusReady:
		return s
	default:
		return StatusDocumentNotReady
	}
}

// IsReady reports whether the status is StatusReady.
func (s Status) IsReady() bool {
	return s == StatusReady
}

// Reason explains why a session reached its terminal state.
type Reason string

const (
	// ReasonStabilized means the probe reported ready
	ReasonStabilized Reason = "stabilized"

	// ReasonDeadline means the wait budget ran out first
	ReasonDeadline Reason = "deadline"

	// ReasonError means the resource became unusable
	ReasonError Reason = "error"

	// ReasonCancelled means the owner cancelled the session
	ReasonCancelled Reason = "cancelled"
)

// Degraded reports whether the content may be partial or missing.
func (r Reason) Degraded() bool {
	return r != ReasonStabilized
}

// State is a session's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateFinalized
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled
}

// Attempt records one query/response cycle.
type Attempt struct {
	// Number starts at 1 and grows by one per retry
	Number int

	// Elapsed is measured from session start, never reset
	Elapsed time.Duration

	// Status is the interpreted response
	Status Status

	// Raw is the probe's literal answer, empty on query failure
	Raw string

	// Err is set when the query itself failed
	Err error

	// Delay is the wait before the next attempt; zero when none follows
	Delay time.Duration
}

// Outcome is what a session produced once it stopped.
type Outcome struct {
	Reason   Reason
	Content  string
	Attempts int
	Elapsed  time.Duration
	Err      error
}
