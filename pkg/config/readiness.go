package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pageready/pkg/readiness"
)

// SectionIDReadiness is the identifier for the readiness detection section
const SectionIDReadiness = "readiness"

// ReadinessSection holds the default timing for detection sessions.
type ReadinessSection struct {
	MaxWait          time.Duration `json:"max_wait"`
	BaseDelay        time.Duration `json:"base_delay"`
	CapDelay         time.Duration `json:"cap_delay"`
	QueryTimeout     time.Duration `json:"query_timeout"`
	SerializeTimeout time.Duration `json:"serialize_timeout"`
	Hook             string        `json:"hook"`
	mu               sync.RWMutex
}

// NewReadinessSection creates a section holding the package defaults.
func NewReadinessSection() *ReadinessSection {
	s := &ReadinessSection{}
	s.Reset()
	return s
}

func (s *ReadinessSection) ID() string {
	return SectionIDReadiness
}

func (s *ReadinessSection) Title() string {
	return "Page Readiness"
}

func (s *ReadinessSection) Description() string {
	return "Configure how long to wait for pages to settle and how quickly to re-check them."
}

// Data returns durations as strings so the file stays readable.
func (s *ReadinessSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"max_wait":          s.MaxWait.String(),
		"base_delay":        s.BaseDelay.String(),
		"cap_delay":         s.CapDelay.String(),
		"query_timeout":     s.QueryTimeout.String(),
		"serialize_timeout": s.SerializeTimeout.String(),
		"hook":              s.Hook,
	}
}

// SetData applies stored values. Unknown keys are ignored.
func (s *ReadinessSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var target *time.Duration
		switch key {
		case "max_wait":
			target = &s.MaxWait
		case "base_delay":
			target = &s.BaseDelay
		case "cap_delay":
			target = &s.CapDelay
		case "query_timeout":
			target = &s.QueryTimeout
		case "serialize_timeout":
			target = &s.SerializeTimeout
		case "hook":
			hook, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for hook: expected string, got %T", value)
			}
			s.Hook = hook
			continue
		default:
			continue
		}

		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		*target = d
	}
	return nil
}

// Validate checks the section would produce valid detector options.
func (s *ReadinessSection) Validate() error {
	_, err := s.Options()
	return err
}

func (s *ReadinessSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MaxWait = readiness.DefaultMaxWait
	s.BaseDelay = readiness.DefaultBaseDelay
	s.CapDelay = readiness.DefaultCapDelay
	s.QueryTimeout = readiness.DefaultQueryTimeout
	s.SerializeTimeout = readiness.DefaultSerializeTimeout
	s.Hook = readiness.DefaultHook
}

// Options converts the section into detector options.
func (s *ReadinessSection) Options() (readiness.Options, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts := readiness.DefaultOptions()
	opts.MaxWait = s.MaxWait
	opts.BaseDelay = s.BaseDelay
	opts.CapDelay = s.CapDelay
	opts.QueryTimeout = s.QueryTimeout
	opts.SerializeTimeout = s.SerializeTimeout

	if s.Hook != "" && s.Hook != readiness.DefaultHook {
		probe, err := readiness.ProbeWithHook(s.Hook)
		if err != nil {
			return readiness.Options{}, err
		}
		opts.Probe = probe
	}

	if err := opts.Validate(); err != nil {
		return readiness.Options{}, err
	}
	return opts, nil
}
