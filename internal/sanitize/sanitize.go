// Package sanitize scrubs backend error text before it reaches clients.
// Doris driver errors can embed hostnames, ports, user names, and fragments
// of the DSN; none of that belongs in a tool response.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule is the sanitizer's own rule type. Replacement may use $1-style
// group references.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer rewrites error text through an ordered rule list.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer compiles the rules. Returns an error on an invalid pattern.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}, nil
}

// DefaultRules covers the leakage shapes MySQL-protocol drivers produce:
// DSN strings, host:port endpoints, user@host principals, and password
// key-value fragments.
func DefaultRules() []Rule {
	return []Rule{
		// Full DSN: user:pass@tcp(host:port)/db
		{Pattern: `[^\s'"]+:[^\s'"]*@tcp\([^)]*\)[^\s'"]*`, Replacement: "[connection]"},
		// Password assignments in config-style text.
		{Pattern: `(?i)(password|passwd|pwd)\s*[=:]\s*[^\s&;'"]+`, Replacement: "$1=[redacted]"},
		// Access-denied principal: 'user'@'host'.
		{Pattern: `'[^']*'@'[^']*'`, Replacement: "'[user]'@'[host]'"},
		// Bare endpoints: host:port or 1.2.3.4:9030.
		{Pattern: `\b[\w.-]+\.[\w.-]+:\d{2,5}\b`, Replacement: "[endpoint]"},
		{Pattern: `\b\d{1,3}(?:\.\d{1,3}){3}:\d{2,5}\b`, Replacement: "[endpoint]"},
	}
}

// HasRules reports whether any rules are configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// Sanitize rewrites a single message. Rules apply in order; later rules see
// the output of earlier ones.
func (s *Sanitizer) Sanitize(msg string) string {
	for _, rule := range s.rules {
		msg = rule.pattern.ReplaceAllString(msg, rule.replacement)
	}
	return msg
}

// SanitizeErr returns the scrubbed text of err, or "" for nil.
func (s *Sanitizer) SanitizeErr(err error) string {
	if err == nil {
		return ""
	}
	return s.Sanitize(err.Error())
}
