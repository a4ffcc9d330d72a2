package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pageready/pkg/readiness"
)

// SessionManager owns the Playwright driver, one shared Chromium process
// and every session opened against it.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	browser     playwright.Browser
	detector    *readiness.Detector
	defaults    SessionOptions
	maxSessions int
	idleTimeout time.Duration
	initialized bool
}

// NewSessionManager creates a session manager whose sessions capture
// through detector. A nil detector gets a default one.
func NewSessionManager(detector *readiness.Detector) *SessionManager {
	if detector == nil {
		detector = readiness.NewDetector()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		detector: detector,
		defaults: SessionOptions{
			Viewport: &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
			Timeout:  DefaultTimeout,
		},
		maxSessions: DefaultMaxSessions,
		idleTimeout: time.Duration(DefaultIdleTimeout) * time.Second,
	}
}

// Initialize installs and starts Playwright and launches the shared browser.
// It must be called before creating any sessions.
func (m *SessionManager) Initialize(launch LaunchOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := launch.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	m.playwright = pw
	m.browser = browser
	m.initialized = true
	return nil
}

// SetDefaults sets the options used by Open.
func (m *SessionManager) SetDefaults(opts SessionOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = opts
}

// StartSession creates a new tab with the given name and options.
func (m *SessionManager) StartSession(name string, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[name]; exists {
		return nil, fmt.Errorf("session %q already exists", name)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("maximum number of sessions (%d) reached", m.maxSessions)
	}
	if !m.initialized {
		return nil, fmt.Errorf("session manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	bctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	session := &Session{
		Name:       name,
		Context:    bctx,
		Page:       page,
		CreatedAt:  now,
		LastUsedAt: now,
		CurrentURL: "about:blank",
		manager:    m,
		resource:   NewPageResource(page),
	}
	m.sessions[name] = session
	return session, nil
}

// Open starts a fresh session and navigates it to url. The session is
// closed again if navigation fails or ctx ends first.
func (m *SessionManager) Open(ctx context.Context, url string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defaults := m.defaults
	m.mu.RUnlock()

	session, err := m.StartSession("capture-"+uuid.NewString()[:8], defaults)
	if err != nil {
		return nil, err
	}

	// Closing the session aborts a navigation still in flight
	if err := session.NavigateContext(ctx, url, NavigateOptions{}); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

// CloseSession cancels the session's detection and releases its tab.
func (m *SessionManager) CloseSession(name string) error {
	m.mu.Lock()
	session, exists := m.sessions[name]
	if exists {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("session %q not found", name)
	}

	// Close errors are ignored, the session is gone either way
	_ = session.shutdown()
	return nil
}

// GetSession retrieves an active session by name.
func (m *SessionManager) GetSession(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[name]
	if !exists {
		return nil, fmt.Errorf("session %q not found", name)
	}
	return session, nil
}

// ListSessions returns information about all active sessions.
func (m *SessionManager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.info())
	}
	return infos
}

// HasSessions returns true if there are any active sessions.
func (m *SessionManager) HasSessions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) > 0
}

// CloseAll closes all active sessions.
func (m *SessionManager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		errs = append(errs, session.shutdown()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %v", errs)
	}
	return nil
}

// Shutdown closes all sessions, the shared browser and Playwright.
func (m *SessionManager) Shutdown() error {
	_ = m.CloseAll()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	if m.browser != nil {
		_ = m.browser.Close()
	}
	m.initialized = false
	if m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
	}
	return nil
}

// CleanupIdleSessions closes sessions that have been idle for longer than
// the timeout. Sessions with a detection still polling are left alone.
func (m *SessionManager) CleanupIdleSessions() error {
	m.mu.Lock()
	now := time.Now()
	var idle []*Session
	for name, session := range m.sessions {
		if session.Capturing() {
			continue
		}
		if now.Sub(session.idleSince()) > m.idleTimeout {
			idle = append(idle, session)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, session := range idle {
		errs = append(errs, session.shutdown()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %v", errs)
	}
	return nil
}

// SetMaxSessions sets the maximum number of concurrent sessions.
func (m *SessionManager) SetMaxSessions(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = max
}

// SetIdleTimeout sets the idle timeout duration.
func (m *SessionManager) SetIdleTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = timeout
}
