// Package masking applies column-level masking rules to query results
// based on the requester's security classification.
package masking

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the ordered security classification used by masking rules.
// Higher values see more data.
type Level int

const (
	LevelPublic Level = iota
	LevelInternal
	LevelConfidential
	LevelSecret
)

// ParseLevel parses a level name ("public", "internal", "confidential",
// "secret"). Unknown names return an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return LevelPublic, nil
	case "internal":
		return LevelInternal, nil
	case "confidential":
		return LevelConfidential, nil
	case "secret":
		return LevelSecret, nil
	}
	return LevelPublic, fmt.Errorf("masking: unknown security level %q", s)
}

func (l Level) String() string {
	switch l {
	case LevelPublic:
		return "public"
	case LevelInternal:
		return "internal"
	case LevelConfidential:
		return "confidential"
	case LevelSecret:
		return "secret"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Algorithm identifies a masking transform.
type Algorithm string

const (
	AlgorithmPhone   Algorithm = "phone_mask"
	AlgorithmEmail   Algorithm = "email_mask"
	AlgorithmID      Algorithm = "id_mask"
	AlgorithmName    Algorithm = "name_mask"
	AlgorithmPartial Algorithm = "partial_mask"
)

// Params holds per-rule algorithm parameters. Zero values fall back to
// per-algorithm defaults applied in NewMasker.
type Params struct {
	MaskChar   string
	KeepPrefix int
	KeepSuffix int
	MaskRatio  float64
}

// Rule maps a column-name pattern to a masking algorithm. MinLevel is the
// minimum requester level that sees the value unmasked; lower levels get
// the transformed value. First matching rule (declaration order) wins.
type Rule struct {
	ColumnPattern string
	Algorithm     Algorithm
	Params        Params
	MinLevel      Level
}

type compiledRule struct {
	pattern   *regexp.Regexp
	algorithm Algorithm
	params    Params
	minLevel  Level
}

// Masker applies masking rules to result rows. Masking is pure and
// deterministic for a given (value, rule, level), so results may be cached
// across identical masking profiles.
type Masker struct {
	rules []compiledRule
}

// NewMasker compiles and validates the rule table once. Returns an error on
// invalid patterns, unknown algorithms, or out-of-range parameters.
func NewMasker(rules []Rule) (*Masker, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.ColumnPattern)
		if err != nil {
			return nil, fmt.Errorf("masking: invalid column pattern %q: %w", r.ColumnPattern, err)
		}
		p := r.Params
		if p.MaskChar == "" {
			p.MaskChar = "*"
		}
		switch r.Algorithm {
		case AlgorithmPhone:
			if p.KeepPrefix == 0 && p.KeepSuffix == 0 {
				p.KeepPrefix, p.KeepSuffix = 3, 4
			}
		case AlgorithmID:
			if p.KeepPrefix == 0 && p.KeepSuffix == 0 {
				p.KeepPrefix, p.KeepSuffix = 6, 4
			}
		case AlgorithmEmail, AlgorithmName:
			// No positional parameters.
		case AlgorithmPartial:
			if p.MaskRatio == 0 {
				p.MaskRatio = 0.5
			}
			if p.MaskRatio < 0 || p.MaskRatio > 1 {
				return nil, fmt.Errorf("masking: mask_ratio %v out of range [0,1] for pattern %q", p.MaskRatio, r.ColumnPattern)
			}
		default:
			return nil, fmt.Errorf("masking: unknown algorithm %q for pattern %q", r.Algorithm, r.ColumnPattern)
		}
		if p.KeepPrefix < 0 || p.KeepSuffix < 0 {
			return nil, fmt.Errorf("masking: negative keep_prefix/keep_suffix for pattern %q", r.ColumnPattern)
		}
		compiled[i] = compiledRule{pattern: re, algorithm: r.Algorithm, params: p, minLevel: r.MinLevel}
	}
	return &Masker{rules: compiled}, nil
}

// HasRules reports whether any rules are configured.
func (m *Masker) HasRules() bool {
	return len(m.rules) > 0
}

// MaskRows transforms row values in place according to the first rule whose
// column pattern matches each column name. Values are passed through
// unmasked when the requester level is at or above the rule's MinLevel.
// Only string values are transformed; nil and non-string values pass through.
func (m *Masker) MaskRows(rows []map[string]interface{}, columns []string, level Level) []map[string]interface{} {
	if len(m.rules) == 0 || len(rows) == 0 {
		return rows
	}
	ruleFor := make(map[string]*compiledRule, len(columns))
	for _, col := range columns {
		for i := range m.rules {
			if m.rules[i].pattern.MatchString(col) {
				ruleFor[col] = &m.rules[i]
				break
			}
		}
	}
	if len(ruleFor) == 0 {
		return rows
	}
	for _, row := range rows {
		for col, rule := range ruleFor {
			if level >= rule.minLevel {
				continue
			}
			if s, ok := row[col].(string); ok {
				row[col] = maskValue(s, rule)
			}
		}
	}
	return rows
}

func maskValue(s string, r *compiledRule) string {
	switch r.algorithm {
	case AlgorithmPhone, AlgorithmID:
		return maskKeepEnds(s, r.params)
	case AlgorithmEmail:
		return maskEmail(s, r.params.MaskChar)
	case AlgorithmName:
		return maskName(s, r.params.MaskChar)
	case AlgorithmPartial:
		return maskPartial(s, r.params)
	}
	return s
}

// maskKeepEnds keeps the configured prefix/suffix rune counts and replaces
// the rest with the mask char. Values too short to keep both ends are fully
// masked rather than partially revealed.
func maskKeepEnds(s string, p Params) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return s
	}
	if n <= p.KeepPrefix+p.KeepSuffix {
		return strings.Repeat(p.MaskChar, n)
	}
	return string(runes[:p.KeepPrefix]) +
		strings.Repeat(p.MaskChar, n-p.KeepPrefix-p.KeepSuffix) +
		string(runes[n-p.KeepSuffix:])
}

// maskEmail keeps the domain and the first and last character of the
// local part, masking the interior.
func maskEmail(s, maskChar string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return maskPartial(s, Params{MaskChar: maskChar, MaskRatio: 0.5})
	}
	local, domain := s[:at], s[at:]
	runes := []rune(local)
	n := len(runes)
	switch {
	case n == 1:
		return maskChar + domain
	case n == 2:
		return string(runes[0]) + maskChar + domain
	default:
		return string(runes[0]) + strings.Repeat(maskChar, n-2) + string(runes[n-1]) + domain
	}
}

// maskName keeps the first character, and for names of three or more
// characters also the last. Single-character names pass unmasked.
func maskName(s, maskChar string) string {
	runes := []rune(s)
	n := len(runes)
	switch {
	case n <= 1:
		return s
	case n == 2:
		return string(runes[0]) + maskChar
	default:
		return string(runes[0]) + strings.Repeat(maskChar, n-2) + string(runes[n-1])
	}
}

// maskPartial masks the middle MaskRatio fraction of the value.
func maskPartial(s string, p Params) string {
	runes := []rune(s)
	n := len(runes)
	maskLen := int(float64(n) * p.MaskRatio)
	if maskLen <= 0 {
		return s
	}
	start := (n - maskLen) / 2
	return string(runes[:start]) + strings.Repeat(p.MaskChar, maskLen) + string(runes[start+maskLen:])
}

// DefaultRules returns the startup rule table used when no explicit rules
// are configured. Column patterns cover common sensitive column names;
// levels are chosen so internal users see masked contact data while secret
// principals see everything.
func DefaultRules() []Rule {
	return []Rule{
		{ColumnPattern: `(?i).*(phone|mobile).*`, Algorithm: AlgorithmPhone, Params: Params{MaskChar: "*", KeepPrefix: 3, KeepSuffix: 4}, MinLevel: LevelConfidential},
		{ColumnPattern: `(?i).*email.*`, Algorithm: AlgorithmEmail, Params: Params{MaskChar: "*"}, MinLevel: LevelConfidential},
		{ColumnPattern: `(?i).*(id_card|identity|ssn).*`, Algorithm: AlgorithmID, Params: Params{MaskChar: "*", KeepPrefix: 6, KeepSuffix: 4}, MinLevel: LevelSecret},
		{ColumnPattern: `(?i).*name.*`, Algorithm: AlgorithmName, Params: Params{MaskChar: "*"}, MinLevel: LevelConfidential},
	}
}
