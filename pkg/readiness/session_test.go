package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(maxWait time.Duration) Options {
	opts := DefaultOptions()
	opts.MaxWait = maxWait
	return opts
}

func waitOutcome(t *testing.T, sess *Session) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := sess.Wait(ctx)
	require.NoError(t, err, "session did not stop in time")
	return out
}

func TestSession_ReadyOnFirstAttempt(t *testing.T) {
	clock := newAutoClock()
	page := &fakePage{responses: statuses(StatusReady), content: "<html>done</html>"}
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, testOptions(15*time.Second), sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonStabilized, out.Reason)
	assert.Equal(t, "<html>done</html>", out.Content)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, page.Queries())
	assert.Equal(t, 1, page.Serializes())
	assert.Equal(t, 1, sink.Calls())
	assert.Equal(t, ReasonStabilized, sink.reason)
	assert.Equal(t, StateFinalized, sess.State())
	assert.Empty(t, clock.Delays())
}

func TestSession_StabilizesAfterRetries(t *testing.T) {
	clock := newAutoClock()
	page := &fakePage{
		responses: statuses(StatusDocumentNotReady, StatusDocumentNotReady, StatusReady),
		content:   "<html/>",
	}
	sink := &recordingSink{}

	opts := DefaultOptions()
	opts.BaseDelay = 500 * time.Millisecond
	opts.CapDelay = 2000 * time.Millisecond
	opts.MaxWait = 5000 * time.Millisecond

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonStabilized, out.Reason)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 1500*time.Millisecond, out.Elapsed)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}, clock.Delays())
	assert.Equal(t, 3, page.Queries())
}

func TestSession_DeadlineWhenNeverReady(t *testing.T) {
	clock := newAutoClock()
	page := &fakePage{responses: statuses(StatusResourcesLoading), content: "<html>partial</html>"}
	sink := &recordingSink{}

	var (
		mu       sync.Mutex
		attempts []Attempt
	)
	opts := testOptions(15 * time.Second)
	opts.OnAttempt = func(a Attempt) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, a)
	}

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonDeadline, out.Reason)
	assert.Equal(t, "<html>partial</html>", out.Content)
	assert.Equal(t, 9, page.Queries(), "no query starts once the budget is spent")
	assert.Equal(t, 9, out.Attempts)
	assert.Equal(t, 15*time.Second, out.Elapsed)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, 1000 * time.Millisecond, 1500 * time.Millisecond,
		2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	}, clock.Delays())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 9)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, StatusResourcesLoading, a.Status)
		assert.Equal(t, clock.Delays()[i], a.Delay)
		if i > 0 {
			assert.GreaterOrEqual(t, a.Elapsed, attempts[i-1].Elapsed)
		}
	}
	assert.Equal(t, 1, sink.Calls())
}

func TestSession_ForcedModeIssuesOneQuery(t *testing.T) {
	for _, maxWait := range []time.Duration{0, -time.Second} {
		for _, status := range []Status{StatusReady, StatusAsyncWorkPending} {
			t.Run(fmt.Sprintf("%s/%s", maxWait, status), func(t *testing.T) {
				page := &fakePage{responses: statuses(status), content: "c"}
				sink := &recordingSink{}

				sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, testOptions(maxWait), sink)
				require.NoError(t, err)

				out := waitOutcome(t, sess)
				assert.Equal(t, ReasonDeadline, out.Reason)
				assert.Equal(t, "c", out.Content)
				assert.Equal(t, 1, page.Queries())
				assert.Equal(t, 1, sink.Calls())
			})
		}
	}
}

func TestSession_ResourceUnavailable(t *testing.T) {
	gone := fmt.Errorf("page closed: %w", ErrResourceUnavailable)
	page := &fakePage{
		responses: []response{{raw: string(StatusAsyncWorkPending)}, {err: gone}},
		content:   "never read",
	}
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, testOptions(time.Minute), sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonError, out.Reason)
	assert.Empty(t, out.Content)
	assert.ErrorIs(t, out.Err, ErrResourceUnavailable)
	assert.Equal(t, 2, page.Queries())
	assert.Zero(t, page.Serializes(), "unavailable resources are not serialized")
	assert.Equal(t, 1, sink.Calls())
	assert.Equal(t, ReasonError, sink.reason)
}

func TestSession_TransientFailuresKeepPolling(t *testing.T) {
	clock := newAutoClock()
	page := &fakePage{
		responses: []response{
			{err: errors.New("execution context was destroyed")},
			{raw: "something unexpected"},
			{raw: string(StatusReady)},
		},
		content: "ok",
	}
	sink := &recordingSink{}

	var seen []Status
	opts := testOptions(time.Minute)
	opts.OnAttempt = func(a Attempt) { seen = append(seen, a.Status) }

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonStabilized, out.Reason)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []Status{StatusDocumentNotReady, StatusDocumentNotReady, StatusReady}, seen)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.Delays())
}

func TestSession_MaxQueryFailures(t *testing.T) {
	page := &fakePage{responses: []response{{err: errors.New("boom")}}}
	sink := &recordingSink{}

	opts := testOptions(time.Hour)
	opts.MaxQueryFailures = 3

	sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonError, out.Reason)
	assert.Equal(t, 3, page.Queries())
	assert.ErrorIs(t, out.Err, errTooManyFailures)
	assert.Equal(t, 1, sink.Calls())
}

func TestSession_SerializeFailure(t *testing.T) {
	page := &fakePage{responses: statuses(StatusReady), serialErr: errors.New("renderer crashed")}
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, testOptions(time.Second), sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonError, out.Reason)
	assert.Empty(t, out.Content)
	assert.Error(t, out.Err)
	assert.Equal(t, 1, sink.Calls())
}

func TestSession_CancelDuringQuery(t *testing.T) {
	page := newBlockingPage()
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, testOptions(time.Minute), sink)
	require.NoError(t, err)

	<-page.entered
	sess.Cancel()

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Equal(t, StateCancelled, sess.State())

	// Let the blocked query return; nothing may follow it.
	close(page.release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), page.queries.Load())
	assert.Zero(t, sink.Calls())

	sess.Cancel()
	assert.Equal(t, StateCancelled, sess.State())
}

func TestSession_CancelDuringDelayReleasesTimer(t *testing.T) {
	clock := newManualClock()
	page := &fakePage{responses: statuses(StatusCustomConditionPending)}
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, testOptions(time.Minute), sink)
	require.NoError(t, err)

	select {
	case <-clock.timers:
	case <-time.After(5 * time.Second):
		t.Fatal("session never scheduled a retry")
	}
	sess.Cancel()

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.Eventually(t, func() bool { return clock.stopped.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, page.Queries())
	assert.Zero(t, sink.Calls())
}

func TestSession_CancelAfterFinalizeIsNoop(t *testing.T) {
	page := &fakePage{responses: statuses(StatusReady), content: "x"}
	sink := &recordingSink{}

	sess, err := NewDetector(WithClock(newAutoClock())).StartDetection(context.Background(), page, testOptions(time.Second), sink)
	require.NoError(t, err)
	before := waitOutcome(t, sess)

	sess.Cancel()
	sess.Cancel()

	after := waitOutcome(t, sess)
	assert.Equal(t, before, after)
	assert.Equal(t, StateFinalized, sess.State())
	assert.Equal(t, 1, sink.Calls())
}

func TestSession_CancelWhileIdle(t *testing.T) {
	page := &fakePage{}
	sink := &recordingSink{}

	sess, err := NewDetector().NewSession(page, DefaultOptions(), sink)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State())

	sess.Cancel()
	assert.Equal(t, StateCancelled, sess.State())

	select {
	case <-sess.Done():
	default:
		t.Fatal("done not closed after idle cancel")
	}

	err = sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, page.Queries())
	assert.Zero(t, sink.Calls())
}

func TestSession_StartTwice(t *testing.T) {
	page := newBlockingPage()
	sess, err := NewDetector().NewSession(page, DefaultOptions(), &recordingSink{})
	require.NoError(t, err)

	require.NoError(t, sess.Start(context.Background()))
	assert.ErrorIs(t, sess.Start(context.Background()), ErrAlreadyStarted)
	sess.Cancel()
}

func TestSession_ParentContextCancelled(t *testing.T) {
	page := newBlockingPage()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := NewDetector().StartDetection(ctx, page, testOptions(time.Minute), sink)
	require.NoError(t, err)

	<-page.entered
	cancel()

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Zero(t, sink.Calls())
}

func TestSession_StartWithCancelledContext(t *testing.T) {
	page := newBlockingPage()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess, err := NewDetector().StartDetection(ctx, page, testOptions(time.Minute), sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Zero(t, sink.Calls())
	assert.Equal(t, int32(0), page.queries.Load())
}

func TestSession_QueryBoundedByBudget(t *testing.T) {
	page := newBlockingPage()
	sink := &recordingSink{}

	opts := testOptions(50 * time.Millisecond)
	opts.QueryTimeout = time.Hour

	start := time.Now()
	sess, err := NewDetector().StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonDeadline, out.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, sink.Calls())
}

func TestSession_StalledQueryEndsAtDeadline(t *testing.T) {
	page := &stallingPage{first: StatusAsyncWorkPending}
	sink := &recordingSink{}

	opts := testOptions(300 * time.Millisecond)
	opts.BaseDelay = 50 * time.Millisecond
	opts.CapDelay = 50 * time.Millisecond
	opts.QueryTimeout = 3 * time.Second

	start := time.Now()
	sess, err := NewDetector().StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	wall := time.Since(start)

	assert.Equal(t, ReasonDeadline, out.Reason)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(2), page.queries.Load())
	assert.GreaterOrEqual(t, wall, opts.MaxWait)
	assert.Less(t, wall, opts.QueryTimeout, "stalled query held the session past its budget")
	assert.Equal(t, 1, sink.Calls())
	assert.Equal(t, ReasonDeadline, sink.reason)
}

func TestSession_DelayEndingOnDeadlineSkipsQuery(t *testing.T) {
	clock := newAutoClock()
	page := &fakePage{responses: statuses(StatusAsyncWorkPending), content: "c"}
	sink := &recordingSink{}

	opts := testOptions(time.Second)
	opts.BaseDelay = time.Second
	opts.CapDelay = time.Second

	sess, err := NewDetector(WithClock(clock)).StartDetection(context.Background(), page, opts, sink)
	require.NoError(t, err)

	out := waitOutcome(t, sess)
	assert.Equal(t, ReasonDeadline, out.Reason)
	assert.Equal(t, 1, page.Queries())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, time.Second, out.Elapsed)
	assert.Equal(t, 1, sink.Calls())
}

func TestDetector_InvalidConfiguration(t *testing.T) {
	d := NewDetector()
	page := &fakePage{}
	sink := &recordingSink{}

	tests := []struct {
		name   string
		mutate func(*Options)
		field  string
	}{
		{"base above cap", func(o *Options) { o.BaseDelay = 3 * time.Second }, "base_delay"},
		{"zero base", func(o *Options) { o.BaseDelay = 0 }, "base_delay"},
		{"negative cap", func(o *Options) { o.CapDelay = -time.Second }, "cap_delay"},
		{"zero query timeout", func(o *Options) { o.QueryTimeout = 0 }, "query_timeout"},
		{"negative failures", func(o *Options) { o.MaxQueryFailures = -1 }, "max_query_failures"},
		{"empty probe", func(o *Options) { o.Probe = "" }, "probe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)

			sess, err := d.StartDetection(context.Background(), page, opts, sink)
			assert.Nil(t, sess)
			require.ErrorIs(t, err, ErrInvalidConfiguration)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	_, err := d.StartDetection(context.Background(), nil, DefaultOptions(), sink)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = d.StartDetection(context.Background(), page, DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	assert.Zero(t, page.Queries())
}

func TestDetector_Detect(t *testing.T) {
	page := &fakePage{responses: statuses(StatusReady), content: "hello"}
	got := make(chan Reason, 1)

	sess, err := NewDetector(WithClock(newAutoClock())).Detect(context.Background(), page, 15*time.Second, func(content string, reason Reason) {
		assert.Equal(t, "hello", content)
		got <- reason
	})
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, ReasonStabilized, r)
	case <-time.After(5 * time.Second):
		t.Fatal("onFinalized never fired")
	}
	waitOutcome(t, sess)
}

func TestDetector_IndependentSessions(t *testing.T) {
	const n = 16
	d := NewDetector()

	sessions := make([]*Session, n)
	sinks := make([]*recordingSink, n)
	for i := 0; i < n; i++ {
		page := &fakePage{
			responses: statuses(StatusAsyncWorkPending, StatusReady),
			content:   fmt.Sprintf("page-%d", i),
		}
		opts := testOptions(time.Minute)
		opts.BaseDelay = time.Millisecond
		opts.CapDelay = 2 * time.Millisecond
		sinks[i] = &recordingSink{}

		sess, err := d.StartDetection(context.Background(), page, opts, sinks[i])
		require.NoError(t, err)
		sessions[i] = sess
	}

	for i, sess := range sessions {
		out := waitOutcome(t, sess)
		assert.Equal(t, ReasonStabilized, out.Reason)
		assert.Equal(t, fmt.Sprintf("page-%d", i), out.Content)
		assert.Equal(t, 1, sinks[i].Calls())
	}
}
