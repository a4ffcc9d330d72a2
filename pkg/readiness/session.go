package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Session is one detection run against one PageResource. It cannot be
// restarted or pointed at a different resource.
type Session struct {
	id       string
	resource PageResource
	sink     CaptureSink
	opts     Options
	clock    Clock
	log      Logger

	mu      sync.Mutex
	state   State
	attempt int
	start   time.Time
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the number of the latest issued query, zero before the first.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Done is closed once the session is finalized or cancelled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start moves an idle session to polling and returns immediately.
// Cancelling ctx behaves like Cancel.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateCancelled:
		return ErrSessionClosed
	default:
		return ErrAlreadyStarted
	}

	s.state = StatePolling
	s.start = s.clock.Now()
	s.parent = ctx
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.log.Debugf("session %s: polling started (max_wait=%s base=%s cap=%s)",
		s.id, s.opts.MaxWait, s.opts.BaseDelay, s.opts.CapDelay)

	go s.run()
	return nil
}

// Cancel stops the session. No query is issued afterwards, the pending
// timer is released and the sink is never called. Calling it on an idle
// session closes it; on a finalized or cancelled one it does nothing.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.markCancelledLocked()
}

// Wait blocks until the session stops or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// settled carries a terminal outcome out of the retry loop.
type settled struct {
	reason Reason
	cause  error
}

func (e *settled) Error() string {
	return string(e.reason)
}

func (s *Session) run() {
	defer s.cancel()

	var (
		n        int
		failures int
		last     Attempt
	)

	attempt := func() error {
		if s.ctx.Err() != nil {
			return backoff.Permanent(context.Canceled)
		}
		// No query may start once the budget is spent.
		remaining := s.opts.MaxWait - s.elapsed()
		if !s.opts.Forced() && remaining <= 0 {
			s.log.Infof("session %s: deadline reached after %d attempts (last status %s)", s.id, n, last.Status)
			return backoff.Permanent(&settled{reason: ReasonDeadline})
		}

		n++
		if !s.beginAttempt(n) {
			return backoff.Permanent(context.Canceled)
		}

		raw, err := s.query(remaining)
		if s.ctx.Err() != nil {
			return backoff.Permanent(context.Canceled)
		}

		rec := Attempt{
			Number:  n,
			Elapsed: s.elapsed(),
			Raw:     raw,
			Err:     err,
		}
		spent := !s.opts.Forced() && rec.Elapsed >= s.opts.MaxWait

		if err != nil {
			rec.Status = StatusDocumentNotReady
			if IsUnavailable(err) {
				s.observe(rec)
				s.log.Warnf("session %s: resource unavailable on attempt %d: %v", s.id, n, err)
				return backoff.Permanent(&settled{reason: ReasonError, cause: err})
			}
			failures++
			s.log.Debugf("session %s: attempt %d query failed (%d consecutive): %v", s.id, n, failures, err)
			if s.opts.MaxQueryFailures > 0 && failures >= s.opts.MaxQueryFailures && !spent {
				s.observe(rec)
				return backoff.Permanent(&settled{reason: ReasonError, cause: fmt.Errorf("%w: %w", errTooManyFailures, err)})
			}
		} else {
			failures = 0
			rec.Status = ParseStatus(raw)
		}

		switch {
		case s.opts.Forced():
			s.observe(rec)
			return backoff.Permanent(&settled{reason: ReasonDeadline})
		case rec.Status.IsReady():
			s.observe(rec)
			return backoff.Permanent(&settled{reason: ReasonStabilized})
		case spent:
			s.observe(rec)
			s.log.Infof("session %s: deadline reached after %d attempts (last status %s)", s.id, n, rec.Status)
			return backoff.Permanent(&settled{reason: ReasonDeadline})
		}

		last = rec
		if err != nil {
			return err
		}
		return errNotReady
	}

	notify := func(_ error, next time.Duration) {
		last.Delay = next
		s.observe(last)
		s.log.Debugf("session %s: status %s on attempt %d, retrying in %s", s.id, last.Status, last.Number, next)
	}

	bo := backoff.WithContext(NewLinearBackOff(s.opts.BaseDelay, s.opts.CapDelay), s.ctx)
	err := backoff.RetryNotifyWithTimer(attempt, bo, notify, &clockTimer{clock: s.clock})

	var done *settled
	if errors.As(err, &done) {
		s.finalize(done.reason, done.cause)
		return
	}
	s.abandon()
}

// beginAttempt records attempt n unless the session has left polling.
func (s *Session) beginAttempt(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePolling || s.ctx.Err() != nil {
		return false
	}
	s.attempt = n
	return true
}

// query runs the readiness check. Outside forced mode its timeout never
// reaches past the remaining budget.
func (s *Session) query(remaining time.Duration) (string, error) {
	timeout := s.opts.QueryTimeout
	if !s.opts.Forced() && remaining < timeout {
		timeout = remaining
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return s.resource.Query(ctx, s.opts.Probe)
}

func (s *Session) elapsed() time.Duration {
	return s.clock.Now().Sub(s.start)
}

func (s *Session) observe(rec Attempt) {
	if s.opts.OnAttempt != nil {
		s.opts.OnAttempt(rec)
	}
}

// finalize is the only path to the sink. The state flips to finalized
// before serializing, so a racing Cancel becomes a no-op.
func (s *Session) finalize(reason Reason, cause error) {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return
	}
	s.state = StateFinalized
	attempts := s.attempt
	elapsed := s.elapsed()
	s.mu.Unlock()

	var content string
	if reason != ReasonError {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.parent), s.opts.SerializeTimeout)
		c, err := s.resource.Serialize(ctx)
		cancel()
		if err != nil {
			s.log.Warnf("session %s: serialize failed after %s finalize: %v", s.id, reason, err)
			reason, cause = ReasonError, fmt.Errorf("serialize: %w", err)
		} else {
			content = c
		}
	}

	s.log.Infof("session %s: finalized reason=%s attempts=%d elapsed=%s bytes=%d",
		s.id, reason, attempts, elapsed.Round(time.Millisecond), len(content))

	s.sink.OnFinalized(content, reason)

	s.mu.Lock()
	s.outcome = Outcome{
		Reason:   reason,
		Content:  content,
		Attempts: attempts,
		Elapsed:  elapsed,
		Err:      cause,
	}
	close(s.done)
	s.mu.Unlock()
}

// abandon handles the owner's context going away mid-poll.
func (s *Session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePolling {
		s.markCancelledLocked()
	}
}

func (s *Session) markCancelledLocked() {
	var elapsed time.Duration
	if s.state == StatePolling {
		elapsed = s.elapsed()
	}
	s.state = StateCancelled
	s.outcome = Outcome{
		Reason:   ReasonCancelled,
		Attempts: s.attempt,
		Elapsed:  elapsed,
		Err:      context.Canceled,
	}
	close(s.done)
	s.log.Debugf("session %s: cancelled after %d attempts", s.id, s.attempt)
}
