package capture

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pageready/pkg/readiness"
)

// Job is a batch capture described in YAML:
//
//	urls:
//	  - https://example.com/
//	output: ./captures
//	concurrency: 4
//	rps: 2
//	readiness:
//	  max_wait: 20s
//	  hook: appReady
//	rules:
//	  - match: "https://example.com/static/*"
//	    max_wait: 0s
type Job struct {
	URLs         []string     `yaml:"urls"`
	Output       string       `yaml:"output"`
	Concurrency  int          `yaml:"concurrency"`
	RPS          float64      `yaml:"rps"`
	StripScripts bool         `yaml:"strip_scripts"`
	Readiness    JobReadiness `yaml:"readiness"`
	Rules        []Rule       `yaml:"rules"`

	defaults Rule
	rules    Rules
}

// JobReadiness holds job-wide detection overrides.
type JobReadiness struct {
	MaxWait      string `yaml:"max_wait"`
	BaseDelay    string `yaml:"base_delay"`
	CapDelay     string `yaml:"cap_delay"`
	QueryTimeout string `yaml:"query_timeout"`
	Hook         string `yaml:"hook"`

	queryTimeout *time.Duration
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseJob(data)
}

// ParseJob decodes and validates a YAML job.
func ParseJob(data []byte) (*Job, error) {
	job := &Job{}
	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func (j *Job) validate() error {
	for i, raw := range j.URLs {
		if err := ValidateURL(raw); err != nil {
			return fmt.Errorf("urls[%d]: %w", i, err)
		}
	}
	if j.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if j.RPS < 0 {
		return fmt.Errorf("rps must not be negative")
	}

	j.defaults = Rule{
		Match:     "*",
		MaxWait:   j.Readiness.MaxWait,
		BaseDelay: j.Readiness.BaseDelay,
		CapDelay:  j.Readiness.CapDelay,
		Hook:      j.Readiness.Hook,
	}
	if err := j.defaults.compile(); err != nil {
		return fmt.Errorf("readiness.%w", err)
	}
	if j.Readiness.QueryTimeout != "" {
		d, err := time.ParseDuration(j.Readiness.QueryTimeout)
		if err != nil {
			return fmt.Errorf("readiness.query_timeout: %w", err)
		}
		j.Readiness.queryTimeout = &d
	}

	rules, err := CompileRules(j.Rules)
	if err != nil {
		return err
	}
	j.rules = rules

	// Overrides are checked against the job's own settings so a bad
	// delay pair fails here rather than once per matching URL.
	base := j.Apply(readiness.DefaultOptions())
	if err := base.Validate(); err != nil {
		return fmt.Errorf("readiness: %w", err)
	}
	for i := range j.rules {
		if err := j.rules[i].Apply(base).Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", j.rules[i].Match, err)
		}
	}
	return nil
}

// Apply layers the job-wide readiness overrides onto opts.
func (j *Job) Apply(opts readiness.Options) readiness.Options {
	opts = j.defaults.Apply(opts)
	if j.Readiness.queryTimeout != nil {
		opts.QueryTimeout = *j.Readiness.queryTimeout
	}
	return opts
}

// CompiledRules returns the job's rules in match order.
func (j *Job) CompiledRules() Rules {
	return j.rules
}

// ValidateURL accepts absolute http, https, file and data URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid URL %q: missing host", raw)
		}
	case "file", "data":
	default:
		return fmt.Errorf("invalid URL %q: unsupported scheme %q", raw, u.Scheme)
	}
	return nil
}
