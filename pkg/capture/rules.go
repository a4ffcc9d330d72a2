package capture

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/pageready/pkg/readiness"
)

// Rule overrides detection options for URLs matching a glob pattern.
// Empty fields leave the base options untouched.
type Rule struct {
	Match     string `yaml:"match"`
	Priority  int    `yaml:"priority"`
	MaxWait   string `yaml:"max_wait"`
	BaseDelay string `yaml:"base_delay"`
	CapDelay  string `yaml:"cap_delay"`
	Hook      string `yaml:"hook"`

	// compiled
	matchers  []glob.Glob
	maxWait   *time.Duration
	baseDelay *time.Duration
	capDelay  *time.Duration
	probe     string
}

// Matches reports whether url matches any of the rule's patterns.
func (r *Rule) Matches(url string) bool {
	for _, m := range r.matchers {
		if m.Match(url) {
			return true
		}
	}
	return false
}

// Apply returns opts with the rule's overrides.
func (r *Rule) Apply(opts readiness.Options) readiness.Options {
	if r.maxWait != nil {
		opts.MaxWait = *r.maxWait
	}
	if r.baseDelay != nil {
		opts.BaseDelay = *r.baseDelay
	}
	if r.capDelay != nil {
		opts.CapDelay = *r.capDelay
	}
	if r.probe != "" {
		opts.Probe = r.probe
	}
	return opts
}

func (r *Rule) compile() error {
	ms, err := parseMatch(r.Match)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	r.matchers = ms

	for _, f := range []struct {
		name string
		raw  string
		dst  **time.Duration
	}{
		{"max_wait", r.MaxWait, &r.maxWait},
		{"base_delay", r.BaseDelay, &r.baseDelay},
		{"cap_delay", r.CapDelay, &r.capDelay},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = &d
	}

	if r.Hook != "" {
		probe, err := readiness.ProbeWithHook(r.Hook)
		if err != nil {
			return fmt.Errorf("hook: %w", err)
		}
		r.probe = probe
	}
	return nil
}

// parseMatch compiles a "|"-separated list of glob patterns.
func parseMatch(expr string) ([]glob.Glob, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty match")
	}

	var out []glob.Glob
	for _, p := range strings.Split(expr, "|") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid patterns")
	}
	return out, nil
}

// Rules is an ordered rule list. The first matching rule wins.
type Rules []Rule

// CompileRules compiles each rule and orders them by ascending priority.
// Rules with equal priority keep their input order.
func CompileRules(rules []Rule) (Rules, error) {
	out := make(Rules, len(rules))
	copy(out, rules)
	for i := range out {
		if err := out[i].compile(); err != nil {
			return nil, fmt.Errorf("rules[%d].%w", i, err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

// Resolve applies the first rule matching url to base.
func (rs Rules) Resolve(url string, base readiness.Options) readiness.Options {
	for i := range rs {
		if rs[i].Matches(url) {
			return rs[i].Apply(base)
		}
	}
	return base
}
