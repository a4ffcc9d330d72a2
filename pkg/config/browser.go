package config

import (
	"fmt"
	"sync"
)

// SectionIDBrowser is the identifier for the browser settings section
const SectionIDBrowser = "browser"

const (
	defaultHeadless       = true
	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
	defaultTimeoutMS      = 30000.0
)

// BrowserSection configures the Playwright browser used for captures.
type BrowserSection struct {
	Headless       bool    `json:"headless"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	TimeoutMS      float64 `json:"timeout_ms"`
	mu             sync.RWMutex
}

// NewBrowserSection creates a browser section with default settings.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

func (s *BrowserSection) ID() string {
	return SectionIDBrowser
}

func (s *BrowserSection) Title() string {
	return "Browser"
}

func (s *BrowserSection) Description() string {
	return "Configure the headless browser that loads pages before capture."
}

func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"headless":        s.Headless,
		"viewport_width":  s.ViewportWidth,
		"viewport_height": s.ViewportHeight,
		"timeout_ms":      s.TimeoutMS,
	}
}

func (s *BrowserSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "headless":
			headless, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for headless: expected bool, got %T", value)
			}
			s.Headless = headless

		case "viewport_width", "viewport_height":
			n, err := parseInt(key, value)
			if err != nil {
				return err
			}
			if key == "viewport_width" {
				s.ViewportWidth = n
			} else {
				s.ViewportHeight = n
			}

		case "timeout_ms":
			ms, ok := value.(float64)
			if !ok {
				n, err := parseInt(key, value)
				if err != nil {
					return err
				}
				ms = float64(n)
			}
			s.TimeoutMS = ms
		}
	}
	return nil
}

func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.ViewportWidth, s.ViewportHeight)
	}
	if s.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %v", s.TimeoutMS)
	}
	return nil
}

func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Headless = defaultHeadless
	s.ViewportWidth = defaultViewportWidth
	s.ViewportHeight = defaultViewportHeight
	s.TimeoutMS = defaultTimeoutMS
}

// Settings returns (headless, width, height, timeoutMS) under one lock.
func (s *BrowserSection) Settings() (bool, int, int, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Headless, s.ViewportWidth, s.ViewportHeight, s.TimeoutMS
}
