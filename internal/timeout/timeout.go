// Package timeout resolves the execution deadline for a statement from
// pattern rules, a server default, and an optional per-request override.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule binds a statement pattern to a timeout. Long-running shapes (large
// aggregations, cross-catalog joins) typically get more headroom than the
// default, cheap metadata statements less.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	// Default applies when no rule matches. Must be positive.
	Default time.Duration
	// Max caps every resolved timeout, including per-request overrides.
	// Zero means no cap.
	Max   time.Duration
	Rules []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts. Safe for concurrent use.
type Manager struct {
	rules    []compiledRule
	defaultT time.Duration
	maxT     time.Duration
}

// NewManager compiles the rule patterns. Panics on an invalid pattern or a
// non-positive default, matching construction-time behavior elsewhere in
// the server.
func NewManager(config Config) *Manager {
	if config.Default <= 0 {
		panic("timeout: default must be positive")
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("timeout: invalid pattern %q: %v", r.Pattern, err))
		}
		if r.Timeout <= 0 {
			panic(fmt.Sprintf("timeout: rule %q has non-positive timeout", r.Pattern))
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultT: config.Default, maxT: config.Max}
}

// Resolve returns the effective timeout for the statement. A positive
// requested value wins over the rule/default resolution when it is shorter;
// a request can tighten its deadline but never extend it past what the
// rules allow. Everything is clamped to Max when set.
func (m *Manager) Resolve(statement string, requested time.Duration) time.Duration {
	resolved := m.defaultT
	for _, rule := range m.rules {
		if rule.pattern.MatchString(statement) {
			resolved = rule.timeout
			break
		}
	}
	if requested > 0 && requested < resolved {
		resolved = requested
	}
	if m.maxT > 0 && resolved > m.maxT {
		resolved = m.maxT
	}
	return resolved
}
