package browser

import (
	"time"

	"github.com/entrhq/pageready/pkg/config"
)

// SessionOptions configures a new browser session (one isolated tab).
type SessionOptions struct {
	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for page operations (in milliseconds)
	Timeout float64
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures the shared browser process.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool
}

// NavigateOptions configures page navigation behavior.
type NavigateOptions struct {
	// WaitUntil specifies when to consider navigation successful
	// Valid values: "commit", "load", "domcontentloaded", "networkidle"
	WaitUntil string

	// Timeout in milliseconds (0 means the session default)
	Timeout float64
}

// SessionInfo contains metadata about a browser session.
type SessionInfo struct {
	Name       string
	CurrentURL string
	Capturing  bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Default values for sessions
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxSessions    = 8
	DefaultIdleTimeout    = 300 // 5 minutes in seconds
	DefaultWaitUntil      = "domcontentloaded"
)

// SessionOptionsFromConfig builds session and launch options from the
// browser config section, falling back to defaults when it is nil.
func SessionOptionsFromConfig(section *config.BrowserSection) (SessionOptions, LaunchOptions) {
	opts := SessionOptions{
		Viewport: &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Timeout:  DefaultTimeout,
	}
	launch := LaunchOptions{Headless: true}
	if section == nil {
		return opts, launch
	}

	headless, width, height, timeout := section.Settings()
	launch.Headless = headless
	opts.Viewport = &Viewport{Width: width, Height: height}
	opts.Timeout = timeout
	return opts, launch
}
