package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock is a deterministic clock. In auto mode every timer fires at
// once and moves time forward by its duration; otherwise timers never fire
// and are announced on the timers channel.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	delays  []time.Duration
	timers  chan *fakeTimer
	stopped atomic.Int32
}

func newAutoClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0), auto: true}
}

func newManualClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0), timers: make(chan *fakeTimer, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	t := &fakeTimer{clock: c, ch: make(chan time.Time, 1)}
	if c.auto {
		c.now = c.now.Add(d)
		t.ch <- c.now
	}
	c.mu.Unlock()

	if !c.auto {
		c.timers <- t
	}
	return t
}

type fakeTimer struct {
	clock *fakeClock
	ch    chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.stopped.Add(1)
	return true
}

type response struct {
	raw string
	err error
}

// fakePage answers queries from a script; the last response repeats.
type fakePage struct {
	clock     *fakeClock
	latency   time.Duration
	responses []response
	content   string
	serialErr error

	mu         sync.Mutex
	queries    int
	serializes int
	probes     []string
}

func (p *fakePage) Query(ctx context.Context, probe string) (string, error) {
	p.mu.Lock()
	i := p.queries
	p.queries++
	p.probes = append(p.probes, probe)
	p.mu.Unlock()

	if p.clock != nil && p.latency > 0 {
		p.clock.Advance(p.latency)
	}
	if len(p.responses) == 0 {
		return string(StatusReady), nil
	}
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	r := p.responses[i]
	return r.raw, r.err
}

func (p *fakePage) Serialize(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serializes++
	return p.content, p.serialErr
}

func (p *fakePage) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

func (p *fakePage) Serializes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serializes
}

// blockingPage holds every query until ctx is done or release is closed.
type blockingPage struct {
	entered chan struct{}
	release chan struct{}
	queries atomic.Int32
}

func newBlockingPage() *blockingPage {
	return &blockingPage{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (p *blockingPage) Query(ctx context.Context, probe string) (string, error) {
	p.queries.Add(1)
	p.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.release:
		return string(StatusReady), nil
	}
}

func (p *blockingPage) Serialize(ctx context.Context) (string, error) {
	return "<html></html>", nil
}

// stallingPage answers its first query and holds every later one until
// the query context ends.
type stallingPage struct {
	first   Status
	queries atomic.Int32
}

func (p *stallingPage) Query(ctx context.Context, probe string) (string, error) {
	if p.queries.Add(1) == 1 {
		return string(p.first), nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (p *stallingPage) Serialize(ctx context.Context) (string, error) {
	return "<html>late</html>", nil
}

type recordingSink struct {
	mu      sync.Mutex
	calls   int
	content string
	reason  Reason
}

func (s *recordingSink) OnFinalized(content string, reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.content = content
	s.reason = reason
}

func (s *recordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func statuses(raw ...Status) []response {
	out := make([]response, len(raw))
	for i, s := range raw {
		out[i] = response{raw: string(s)}
	}
	return out
}
