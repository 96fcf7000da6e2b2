package security

import (
	"regexp"
	"strings"
	"unicode"
)

// leadingKeyword returns the first SQL keyword of the statement, upper-cased,
// after skipping leading whitespace and comments. Returns "" for statements
// that start with something other than a word (or are empty).
func leadingKeyword(sql string) string {
	i := skipLeading(sql)
	start := i
	for i < len(sql) {
		c := sql[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			i++
			continue
		}
		break
	}
	if i == start {
		return ""
	}
	return strings.ToUpper(sql[start:i])
}

// skipLeading advances past whitespace, line comments (-- and #), and block
// comments at the start of the statement.
func skipLeading(sql string) int {
	i := 0
	for i < len(sql) {
		switch {
		case unicode.IsSpace(rune(sql[i])):
			i++
		case strings.HasPrefix(sql[i:], "--") || sql[i] == '#':
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				return len(sql)
			}
			i += nl + 1
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return len(sql)
			}
			i += 2 + end + 2
		default:
			return i
		}
	}
	return i
}

// bareStatement returns the statement with string literals replaced by a
// neutral placeholder and comments removed, plus whether any comment appears
// after the statement has started. Literal contents must not be able to
// trigger or suppress heuristic matches.
func bareStatement(sql string) (bare string, hasComment bool) {
	var b strings.Builder
	b.Grow(len(sql))
	started := false
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\\' && j+1 < len(sql) {
					j += 2
					continue
				}
				if sql[j] == quote {
					// Doubled quote is an escaped quote, not a terminator.
					if j+1 < len(sql) && sql[j+1] == quote {
						j += 2
						continue
					}
					break
				}
				j++
			}
			b.WriteString("?")
			started = true
			if j >= len(sql) {
				i = len(sql)
			} else {
				i = j + 1
			}
		case strings.HasPrefix(sql[i:], "--") || c == '#':
			if started {
				hasComment = true
			}
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				i = len(sql)
			} else {
				i += nl + 1
				b.WriteByte(' ')
			}
		case strings.HasPrefix(sql[i:], "/*"):
			if started {
				hasComment = true
			}
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += 2 + end + 2
				b.WriteByte(' ')
			}
		default:
			if !unicode.IsSpace(rune(c)) {
				started = true
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), hasComment
}

var (
	reUnionSelect = regexp.MustCompile(`(?i)\bUNION(\s+ALL)?\s+SELECT\b`)
	reAlwaysTrue  = regexp.MustCompile(`(?i)\bOR\s+(\d+)\s*=\s*(\d+)\b|\bOR\s+\?\s*=\s*\?`)
	reTimeProbe   = regexp.MustCompile(`(?i)\b(SLEEP|BENCHMARK|PG_SLEEP)\s*\(|\bWAITFOR\s+DELAY\b`)
	reJoin        = regexp.MustCompile(`(?i)\bJOIN\b`)
	rePredicate   = regexp.MustCompile(`(?i)\b(AND|OR)\b`)
	reWhere       = regexp.MustCompile(`(?i)\bWHERE\b`)
	reSelectParen = regexp.MustCompile(`(?i)^\s*SELECT\b`)
	reTableRef    = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE)\s+([a-zA-Z_][\w$]*(?:\.[a-zA-Z_][\w$]*){0,2})`)
)

// detectInjection runs the heuristic battery against the bare statement.
// Each match carries a risk tier; the caller decides block versus
// warn-and-audit based on its threshold.
func detectInjection(bare string, hasComment bool) []Finding {
	var findings []Finding

	// Stacked statements: a ';' followed by more content.
	if i := strings.IndexByte(bare, ';'); i >= 0 && strings.TrimSpace(bare[i+1:]) != "" {
		findings = append(findings, Finding{
			Code:   "stacked_statement",
			Detail: "statement terminator followed by additional statement",
			Risk:   RiskHigh,
		})
	}

	if loc := reUnionSelect.FindString(bare); loc != "" {
		findings = append(findings, Finding{
			Code:   "union_select",
			Detail: "UNION SELECT may combine unrelated result sets",
			Risk:   RiskMedium,
		})
	}

	if m := reAlwaysTrue.FindStringSubmatch(bare); m != nil {
		// Numeric comparisons only count when both sides are equal
		// (the OR 1=1 family); blanked literals always count.
		if m[1] == "" || m[1] == m[2] {
			findings = append(findings, Finding{
				Code:   "always_true_predicate",
				Detail: "tautological OR predicate",
				Risk:   RiskMedium,
			})
		}
	}

	if reTimeProbe.MatchString(bare) {
		findings = append(findings, Finding{
			Code:   "time_probe",
			Detail: "time-based probe function",
			Risk:   RiskHigh,
		})
	}

	if hasComment {
		findings = append(findings, Finding{
			Code:   "comment_truncation",
			Detail: "comment after statement start may truncate the intended predicate",
			Risk:   RiskMedium,
		})
	}

	return findings
}

// complexityScore computes the lexical complexity of the bare statement:
// joins weigh 10, each level of subquery nesting 15, predicates 5.
func complexityScore(bare string) int {
	joins := len(reJoin.FindAllStringIndex(bare, -1))
	predicates := len(rePredicate.FindAllStringIndex(bare, -1))
	if reWhere.MatchString(bare) {
		predicates++
	}
	return joins*10 + subqueryDepth(bare)*15 + predicates*5
}

// subqueryDepth returns the maximum nesting depth of parenthesized SELECTs.
// Approximate on purpose: this is a lexical score, not a parse.
func subqueryDepth(bare string) int {
	depth, maxDepth := 0, 0
	for i := 0; i < len(bare); i++ {
		switch bare[i] {
		case '(':
			if reSelectParen.MatchString(bare[i+1:]) {
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}

// LeadingKeyword returns the first keyword of a statement, upper-cased.
// Callers use it for cheap statement classification, read-only detection
// for caching eligibility in particular.
func LeadingKeyword(sql string) string {
	return leadingKeyword(sql)
}

// Bare returns the statement with string literals blanked and comments
// stripped, the form ExtractTableRefs expects.
func Bare(sql string) string {
	b, _ := bareStatement(sql)
	return b
}

// ExtractTableRefs returns the table references found after FROM, JOIN,
// INTO, and UPDATE keywords, deduplicated in order of first appearance.
// The input should be a bare statement (literals blanked) so quoted data
// cannot masquerade as a reference.
func ExtractTableRefs(bare string) []string {
	matches := reTableRef.FindAllStringSubmatch(bare, -1)
	seen := make(map[string]struct{}, len(matches))
	var refs []string
	for _, m := range matches {
		ref := m[1]
		key := strings.ToLower(ref)
		// Skip the SELECT of "FROM (SELECT ..." captured via derived tables.
		if key == "select" || key == "dual" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}
