package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/pageready/pkg/readiness"
)

// DefaultConcurrency is the number of pages captured at once when the
// config leaves it unset.
const DefaultConcurrency = 4

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// OutputDir receives the .html and .json files
	OutputDir string

	// Concurrency bounds the number of open pages (0 means DefaultConcurrency)
	Concurrency int

	// RPS limits how fast pages are opened (0 means unlimited)
	RPS float64

	// StripScripts removes scripts from saved HTML
	StripScripts bool

	// Options are the base detection options before rules apply
	Options readiness.Options

	Rules  Rules
	Logger readiness.Logger
}

// Result is the outcome of capturing one URL.
type Result struct {
	URL      string
	Reason   readiness.Reason
	Outcome  readiness.Outcome
	Metadata *Metadata
	Err      error
}

// Runner captures a list of URLs concurrently.
type Runner struct {
	opener  Opener
	cfg     RunnerConfig
	limiter *rate.Limiter
	log     readiness.Logger
}

// NewRunner creates a runner opening pages through opener.
func NewRunner(opener Opener, cfg RunnerConfig) (*Runner, error) {
	if opener == nil {
		return nil, errors.New("opener is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("invalid concurrency %d", cfg.Concurrency)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RPS < 0 {
		return nil, fmt.Errorf("invalid rps %v", cfg.RPS)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	log := cfg.Logger
	if log == nil {
		log = nopLogger{}
	}

	return &Runner{
		opener:  opener,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}, nil
}

// Run captures every URL and returns one Result per URL in input order.
// Cancelling ctx cancels in-flight detections; URLs not yet started are
// reported as cancelled.
func (r *Runner) Run(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	sem := make(chan struct{}, r.cfg.Concurrency)

	var wg sync.WaitGroup
	for i, u := range urls {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = cancelledResult(u, ctx.Err())
			continue
		}

		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.captureOne(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return results
}

func (r *Runner) captureOne(ctx context.Context, url string) Result {
	if err := r.limiter.Wait(ctx); err != nil {
		return cancelledResult(url, err)
	}

	sink := NewFileSink(r.cfg.OutputDir, url, r.cfg.StripScripts)
	start := time.Now()

	page, err := r.opener.Open(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return cancelledResult(url, ctx.Err())
		}
		r.log.Warnf("capture %s: open failed: %v", url, err)
		sink.Fail(err)
		return r.result(url, readiness.Outcome{Reason: readiness.ReasonError, Err: err}, sink)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.log.Debugf("capture %s: close failed: %v", url, err)
		}
	}()

	opts := r.cfg.Rules.Resolve(url, r.cfg.Options)
	opts.OnAttempt = chainObservers(opts.OnAttempt, sink.Observe)

	det, err := page.Capture(ctx, opts, sink)
	if err != nil {
		r.log.Warnf("capture %s: detection not started: %v", url, err)
		sink.Fail(err)
		return r.result(url, readiness.Outcome{Reason: readiness.ReasonError, Err: err}, sink)
	}

	// The session stops on its own once ctx is cancelled.
	out, _ := det.Wait(context.Background())
	if out.Reason == readiness.ReasonCancelled {
		return Result{URL: url, Reason: out.Reason, Outcome: out, Err: out.Err}
	}

	r.log.Infof("capture %s: %s after %d attempts in %s (total %s)",
		url, out.Reason, out.Attempts, out.Elapsed, time.Since(start).Round(time.Millisecond))
	return r.result(url, out, sink)
}

func (r *Runner) result(url string, out readiness.Outcome, sink *FileSink) Result {
	res := Result{URL: url, Reason: out.Reason, Outcome: out, Err: out.Err}
	if md, ok := sink.Metadata(); ok {
		res.Metadata = &md
	}
	if err := sink.Err(); err != nil {
		r.log.Warnf("capture %s: %v", url, err)
		if res.Err == nil {
			res.Err = err
		}
	}
	return res
}

func cancelledResult(url string, err error) Result {
	return Result{
		URL:     url,
		Reason:  readiness.ReasonCancelled,
		Outcome: readiness.Outcome{Reason: readiness.ReasonCancelled, Err: err},
		Err:     err,
	}
}

func chainObservers(first, second func(readiness.Attempt)) func(readiness.Attempt) {
	if first == nil {
		return second
	}
	return func(a readiness.Attempt) {
		first(a)
		second(a)
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
