package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pageready/pkg/readiness"
)

// Metadata is the JSON record written next to each capture.
type Metadata struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	Reason      readiness.Reason `json:"reason"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Bytes       int              `json:"bytes"`
	Attempts    int              `json:"attempts"`
	ElapsedMS   int64            `json:"elapsed_ms"`
	LastStatus  readiness.Status `json:"last_status,omitempty"`
	CapturedAt  time.Time        `json:"captured_at"`
	HTMLFile    string           `json:"html_file,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// FileSink writes one capture to <dir>/<id>.html and <dir>/<id>.json.
// Pass its Observe method as Options.OnAttempt so the metadata carries
// attempt counts.
type FileSink struct {
	dir          string
	url          string
	stripScripts bool
	now          func() time.Time

	mu       sync.Mutex
	id       string
	last     readiness.Attempt
	attempts int
	meta     Metadata
	written  bool
	err      error
}

var _ readiness.CaptureSink = (*FileSink)(nil)

// NewFileSink creates a sink for url writing into dir.
func NewFileSink(dir, url string, stripScripts bool) *FileSink {
	return &FileSink{
		dir:          dir,
		url:          url,
		stripScripts: stripScripts,
		now:          time.Now,
		id:           uuid.NewString(),
	}
}

// ID returns the capture ID used for file names.
func (s *FileSink) ID() string {
	return s.id
}

// Observe records an attempt.
func (s *FileSink) Observe(a readiness.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = a
	s.attempts = a.Number
}

// OnFinalized writes the capture. Write errors are kept for Err.
func (s *FileSink) OnFinalized(content string, reason readiness.Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = s.writeLocked(content, reason, nil)
}

// Fail records a capture that never reached the detector, such as a
// page that failed to load.
func (s *FileSink) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = s.writeLocked("", readiness.ReasonError, cause)
}

// Metadata returns the record written by the last OnFinalized or Fail.
func (s *FileSink) Metadata() (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.written
}

// Err returns the error from writing the capture, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FileSink) writeLocked(content string, reason readiness.Reason, cause error) error {
	s.meta = Metadata{
		ID:         s.id,
		URL:        s.url,
		Reason:     reason,
		Attempts:   s.attempts,
		ElapsedMS:  s.last.Elapsed.Milliseconds(),
		LastStatus: s.last.Status,
		CapturedAt: s.now().UTC(),
	}
	s.written = true
	if cause != nil {
		s.meta.Error = cause.Error()
	} else if s.last.Err != nil {
		s.meta.Error = s.last.Err.Error()
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if reason != readiness.ReasonError {
		if s.stripScripts {
			stripped, err := StripScripts(content)
			if err != nil {
				return err
			}
			content = stripped
		}
		if meta, err := ExtractMeta(content); err == nil {
			s.meta.Title = meta.Title
			s.meta.Description = meta.Description
		}

		s.meta.Bytes = len(content)
		s.meta.HTMLFile = s.id + ".html"
		if err := os.WriteFile(filepath.Join(s.dir, s.meta.HTMLFile), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write HTML: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, s.id+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
