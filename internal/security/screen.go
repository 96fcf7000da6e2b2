// Package security implements the pre-execution SQL screen: a lexical
// deny-list, injection heuristics with risk tiers, complexity scoring, and
// table-level authorization. It never parses SQL; screening is lexical and
// heuristic by contract; real parsing happens in the backend engine.
package security

import (
	"fmt"
	"strings"
)

// Level is the ordered security classification used for table access checks.
type Level int

const (
	LevelPublic Level = iota
	LevelInternal
	LevelConfidential
	LevelSecret
)

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

// Risk is the tier assigned to an injection heuristic finding.
type Risk int

const (
	RiskNone Risk = iota
	RiskLow
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// Score maps a risk tier to the numeric risk score recorded in audit records.
func (r Risk) Score() int {
	switch r {
	case RiskLow:
		return 25
	case RiskMedium:
		return 60
	case RiskHigh:
		return 90
	}
	return 0
}

// Config is the screener's own config type.
type Config struct {
	// BlockedKeywords are leading statement keywords that are always denied,
	// matched case-insensitively after skipping whitespace and comments.
	BlockedKeywords []string
	// BlockThreshold is the lowest risk tier that blocks a statement.
	// Findings below the threshold are reported for auditing but allowed.
	BlockThreshold Risk
	// MaxComplexity rejects statements whose lexical complexity score
	// (joins, subquery depth, predicates) exceeds it. <= 0 disables.
	MaxComplexity int
	// SensitiveTables maps bare table names to their classification.
	// Keys are case-folded at construction; unlisted tables are public.
	SensitiveTables map[string]Level
}

// Principal is the identity a statement is screened for.
type Principal struct {
	ID            string
	Level         Level
	AllowedTables []string // table names, or ["*"] for wildcard
}

// Finding is a single injection heuristic match.
type Finding struct {
	Code   string
	Detail string
	Risk   Risk
}

// Verdict is returned for an allowed statement.
type Verdict struct {
	Statement  string    // the screened statement, unmodified
	Tables     []string  // table references extracted for resolution
	Findings   []Finding // sub-threshold findings, surfaced for auditing
	Risk       Risk      // highest tier observed among findings
	Complexity int       // lexical complexity score
}

// BlockedKeywordError reports a statement denied by the leading-keyword list.
type BlockedKeywordError struct {
	Keyword string
}

func (e *BlockedKeywordError) Error() string {
	return fmt.Sprintf("statement contains blocked operations: %s is not allowed", e.Keyword)
}

// InjectionError reports a statement denied by injection heuristics.
type InjectionError struct {
	Findings []Finding
	Risk     Risk
}

func (e *InjectionError) Error() string {
	codes := make([]string, len(e.Findings))
	for i, f := range e.Findings {
		codes[i] = f.Code
	}
	return fmt.Sprintf("possible SQL injection detected (%s risk): %s", e.Risk, strings.Join(codes, ", "))
}

// ComplexityError reports a statement over the complexity budget.
type ComplexityError struct {
	Score int
	Max   int
}

func (e *ComplexityError) Error() string {
	return fmt.Sprintf("query complexity %d exceeds maximum %d", e.Score, e.Max)
}

// AuthorizationError reports a principal denied access to a table.
type AuthorizationError struct {
	Principal string
	Table     string
	Required  Level
	Actual    Level
	Reason    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("access denied for %s to table %s: %s", e.Principal, e.Table, e.Reason)
}

// Screener validates statements before execution. Safe for concurrent use;
// configuration is immutable after construction.
type Screener struct {
	config  Config
	blocked map[string]struct{}
}

// NewScreener creates a Screener. The blocked-keyword list and the
// sensitive-table keys are case-normalized once at construction, so lookups
// against lowercased references always hit.
func NewScreener(config Config) *Screener {
	blocked := make(map[string]struct{}, len(config.BlockedKeywords))
	for _, kw := range config.BlockedKeywords {
		blocked[strings.ToUpper(strings.TrimSpace(kw))] = struct{}{}
	}
	if len(config.SensitiveTables) > 0 {
		folded := make(map[string]Level, len(config.SensitiveTables))
		for name, lvl := range config.SensitiveTables {
			folded[strings.ToLower(name)] = lvl
		}
		config.SensitiveTables = folded
	}
	if config.BlockThreshold == RiskNone {
		config.BlockThreshold = RiskMedium
	}
	return &Screener{config: config, blocked: blocked}
}

// Screen runs the full pipeline in order: deny-list, injection heuristics,
// complexity scoring, authorization. A nil error means the statement may be
// executed as-is.
func (s *Screener) Screen(sql string, principal Principal) (*Verdict, error) {
	// 1. Leading-keyword deny list, tolerant of whitespace and comments.
	if kw := leadingKeyword(sql); kw != "" {
		if _, ok := s.blocked[kw]; ok {
			return nil, &BlockedKeywordError{Keyword: kw}
		}
	}

	// Heuristics and extraction operate on the statement with string
	// literals blanked so quoted data cannot trigger or hide findings.
	bare, hasComment := bareStatement(sql)

	// 2. Injection heuristics.
	findings := detectInjection(bare, hasComment)
	maxRisk := RiskNone
	for _, f := range findings {
		if f.Risk > maxRisk {
			maxRisk = f.Risk
		}
	}
	if maxRisk >= s.config.BlockThreshold {
		return nil, &InjectionError{Findings: findings, Risk: maxRisk}
	}

	// 3. Complexity scoring.
	score := complexityScore(bare)
	if s.config.MaxComplexity > 0 && score > s.config.MaxComplexity {
		return nil, &ComplexityError{Score: score, Max: s.config.MaxComplexity}
	}

	// 4. Authorization on every referenced table.
	tables := ExtractTableRefs(bare)
	for _, ref := range tables {
		if err := s.authorize(principal, ref); err != nil {
			return nil, err
		}
	}

	return &Verdict{
		Statement:  sql,
		Tables:     tables,
		Findings:   findings,
		Risk:       maxRisk,
		Complexity: score,
	}, nil
}

// authorize checks the allowlist and the level ordering for one table
// reference. The reference may be qualified; classification and allowlists
// are keyed by bare table name, but fully qualified allowlist entries also
// match.
func (s *Screener) authorize(p Principal, ref string) error {
	bare := bareTableName(ref)

	allowed := false
	for _, a := range p.AllowedTables {
		if a == "*" || strings.EqualFold(a, bare) || strings.EqualFold(a, ref) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &AuthorizationError{
			Principal: p.ID,
			Table:     ref,
			Actual:    p.Level,
			Reason:    "table is not in the principal's allowlist",
		}
	}

	required, ok := s.config.SensitiveTables[strings.ToLower(bare)]
	if ok && p.Level < required {
		return &AuthorizationError{
			Principal: p.ID,
			Table:     ref,
			Required:  required,
			Actual:    p.Level,
			Reason:    fmt.Sprintf("table requires %s clearance, principal has %s", required, p.Level),
		}
	}
	return nil
}

func bareTableName(ref string) string {
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
