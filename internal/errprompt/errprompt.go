// Package errprompt maps backend error messages to remediation hints
// surfaced alongside tool errors, steering agents toward the metadata
// tools instead of retry loops.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs an error message pattern with the hint returned on match.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance hints.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks an error message against all rules (top to bottom).
// Returns all matching hints joined with newline separators.
// Returns empty string if no match.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// DefaultRules covers the Doris FE errors agents most often run into.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern: `(?i)unknown (table|database|catalog)`,
			Message: "The referenced object does not exist. Use get_catalog_list, get_db_list, and get_db_table_list to discover valid names, and qualify tables as catalog.database.table.",
		},
		{
			Pattern: `(?i)unknown column`,
			Message: "The referenced column does not exist. Use get_table_schema to inspect the table's columns before querying.",
		},
		{
			Pattern: `(?i)(syntax error|sql_parse_error|failed to parse)`,
			Message: "The statement did not parse. Doris accepts MySQL-flavored SQL; check quoting and keywords.",
		},
		{
			Pattern: `(?i)(memory.*exceed|exceed.*limit|query.*cancelled)`,
			Message: "The query exceeded backend resource limits. Narrow the scan with predicates or a smaller max_rows.",
		},
	}
}
