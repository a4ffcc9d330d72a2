package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pageready/pkg/readiness"
)

// ErrSessionClosed is returned by operations on a session that has been closed.
var ErrSessionClosed = errors.New("browser session closed")

// Session is one isolated tab: its own browser context and page inside
// the manager's shared browser. At most one readiness detection runs
// against it at a time.
type Session struct {
	Name       string
	Context    playwright.BrowserContext
	Page       playwright.Page
	CreatedAt  time.Time
	LastUsedAt time.Time
	CurrentURL string

	mu        sync.Mutex
	manager   *SessionManager
	resource  *PageResource
	detection *readiness.Session
	closed    bool
}

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.mu.Lock()
	s.LastUsedAt = time.Now()
	s.mu.Unlock()
}

// Resource returns the readiness view of the session's page.
func (s *Session) Resource() *PageResource {
	return s.resource
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resource != nil && !s.closed {
		s.CurrentURL = s.resource.URL()
	}
	return s.CurrentURL
}

// Navigate navigates the session's page to the specified URL.
func (s *Session) Navigate(url string, opts NavigateOptions) error {
	s.UpdateLastUsed()

	if opts.WaitUntil == "" {
		opts.WaitUntil = DefaultWaitUntil
	}
	waitUntil := playwright.WaitUntilState(opts.WaitUntil)
	playwrightOpts := playwright.PageGotoOptions{WaitUntil: &waitUntil}
	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	if _, err := s.Page.Goto(url, playwrightOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	s.mu.Lock()
	s.CurrentURL = s.Page.URL()
	s.mu.Unlock()
	return nil
}

// NavigateContext is Navigate bounded by ctx. If ctx ends first it returns
// ctx.Err() while Goto keeps running until the session is closed.
func (s *Session) NavigateContext(ctx context.Context, url string, opts NavigateOptions) error {
	return runContext(ctx, func() error {
		return s.Navigate(url, opts)
	})
}

// runContext returns when fn does or ctx ends, whichever comes first.
func runContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

// Capture starts a readiness detection on the page. A detection already
// running on this session is cancelled first.
func (s *Session) Capture(ctx context.Context, opts readiness.Options, sink readiness.CaptureSink) (*readiness.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.detection != nil {
		s.detection.Cancel()
		s.detection = nil
	}

	det, err := s.manager.detector.StartDetection(ctx, s.resource, opts, sink)
	if err != nil {
		return nil, err
	}
	s.detection = det
	s.LastUsedAt = time.Now()
	return det, nil
}

// CancelCapture cancels the running detection, if any.
func (s *Session) CancelCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detection != nil {
		s.detection.Cancel()
	}
}

// Capturing reports whether a detection is still polling.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detection != nil && !s.detection.State().Terminal()
}

// Close removes the session from its manager and releases the tab.
func (s *Session) Close() error {
	return s.manager.CloseSession(s.Name)
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Name:       s.Name,
		CurrentURL: s.CurrentURL,
		Capturing:  s.detection != nil && !s.detection.State().Terminal(),
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastUsedAt
}

// shutdown cancels the detection before the page goes away so no query
// runs against a closed target.
func (s *Session) shutdown() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.detection != nil {
		s.detection.Cancel()
	}

	var errs []error
	if s.Page != nil {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
