package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/pageready/pkg/readiness"
)

// scriptedResource answers queries from a fixed list; the last answer repeats.
type scriptedResource struct {
	statuses []string
	content  string
	queries  atomic.Int32
}

func (r *scriptedResource) Query(ctx context.Context, probe string) (string, error) {
	n := int(r.queries.Add(1))
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(r.statuses) == 0 {
		return "ready", nil
	}
	if n > len(r.statuses) {
		n = len(r.statuses)
	}
	return r.statuses[n-1], nil
}

func (r *scriptedResource) Serialize(ctx context.Context) (string, error) {
	return r.content, nil
}

type fakePage struct {
	url      string
	resource *scriptedResource
	opener   *fakeOpener
	closed   atomic.Bool
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Capture(ctx context.Context, opts readiness.Options, sink readiness.CaptureSink) (*readiness.Session, error) {
	return p.opener.detector.StartDetection(ctx, p.resource, opts, sink)
}

func (p *fakePage) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.opener.active.Add(-1)
	}
	return nil
}

// fakeOpener hands out scripted pages and tracks how many are open.
type fakeOpener struct {
	detector *readiness.Detector
	scripts  map[string][]string
	failures map[string]error
	content  string

	mu        sync.Mutex
	pages     []*fakePage
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		detector: readiness.NewDetector(),
		scripts:  make(map[string][]string),
		failures: make(map[string]error),
		content:  `<html><head><title>Fixture</title></head><body><p>body</p></body></html>`,
	}
}

func (o *fakeOpener) Open(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := o.failures[url]; ok {
		return nil, err
	}

	n := o.active.Add(1)
	for {
		peak := o.maxActive.Load()
		if n <= peak || o.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	page := &fakePage{
		url:      url,
		opener:   o,
		resource: &scriptedResource{statuses: o.scripts[url], content: o.content},
	}
	o.mu.Lock()
	o.pages = append(o.pages, page)
	o.mu.Unlock()
	return page, nil
}

func (o *fakeOpener) allClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pages {
		if !p.closed.Load() {
			return false
		}
	}
	return true
}

func (o *fakeOpener) page(url string) *fakePage {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pages {
		if p.url == url {
			return p
		}
	}
	return nil
}

var errDNS = errors.New("net::ERR_NAME_NOT_RESOLVED")

func fastOptions(maxWait time.Duration) readiness.Options {
	opts := readiness.DefaultOptions()
	opts.MaxWait = maxWait
	opts.BaseDelay = time.Millisecond
	opts.CapDelay = 5 * time.Millisecond
	return opts
}
