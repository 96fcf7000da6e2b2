package security

import (
	"errors"
	"strings"
	"testing"
)

func defaultConfig() Config {
	return Config{
		BlockedKeywords: []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE", "GRANT", "REVOKE", "EXEC", "SHUTDOWN", "KILL"},
		BlockThreshold:  RiskMedium,
		MaxComplexity:   100,
		SensitiveTables: map[string]Level{
			"user_info":       LevelConfidential,
			"payment_records": LevelSecret,
			"public_reports":  LevelPublic,
		},
	}
}

func analyst() Principal {
	return Principal{ID: "analyst1", Level: LevelInternal, AllowedTables: []string{"*"}}
}

func TestSafeSelectAllowed(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	v, err := s.Screen("SELECT name, email FROM users WHERE department = 'sales'", analyst())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Tables) != 1 || v.Tables[0] != "users" {
		t.Errorf("expected [users], got %v", v.Tables)
	}
	if v.Risk != RiskNone {
		t.Errorf("expected no risk, got %v", v.Risk)
	}
}

func TestBlockedKeywords(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	blocked := []string{
		"DROP TABLE users",
		"DELETE FROM users WHERE id = 1",
		"TRUNCATE TABLE logs",
		"ALTER TABLE users ADD COLUMN c VARCHAR(50)",
		"CREATE TABLE test (id INT)",
		"INSERT INTO users VALUES (1, 'x')",
		"UPDATE users SET name = 'x' WHERE id = 1",
		"GRANT ALL ON db.* TO 'u'",
		"KILL 42",
	}
	for _, sql := range blocked {
		_, err := s.Screen(sql, analyst())
		var kwErr *BlockedKeywordError
		if !errors.As(err, &kwErr) {
			t.Errorf("%q: expected BlockedKeywordError, got %v", sql, err)
		}
	}
}

func TestBlockedKeywordCaseAndWhitespaceInsensitive(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	for _, sql := range []string{
		"   drop table users",
		"\n\tDrOp TABLE users",
		"-- harmless comment\nDROP TABLE users",
		"/* leading */ DROP TABLE users",
		"# mysql comment\nDROP TABLE users",
	} {
		if _, err := s.Screen(sql, analyst()); err == nil {
			t.Errorf("%q: expected deny", sql)
		}
	}
}

func TestStackedStatementInjection(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	_, err := s.Screen("SELECT * FROM users WHERE id = 1; DROP TABLE users;", analyst())
	var injErr *InjectionError
	if !errors.As(err, &injErr) {
		t.Fatalf("expected InjectionError, got %v", err)
	}
	if injErr.Risk != RiskHigh {
		t.Errorf("expected high risk, got %v", injErr.Risk)
	}
	found := false
	for _, f := range injErr.Findings {
		if f.Code == "stacked_statement" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stacked_statement finding, got %v", injErr.Findings)
	}
}

func TestTrailingSemicolonAllowed(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	if _, err := s.Screen("SELECT 1;", analyst()); err != nil {
		t.Errorf("trailing semicolon alone must not deny: %v", err)
	}
}

func TestUnionSelectInjection(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	_, err := s.Screen("SELECT name FROM users UNION SELECT password FROM admin_users", analyst())
	var injErr *InjectionError
	if !errors.As(err, &injErr) {
		t.Fatalf("expected InjectionError, got %v", err)
	}
}

func TestAlwaysTruePredicate(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	for _, sql := range []string{
		"SELECT * FROM users WHERE id = 1 OR 1=1",
		"SELECT * FROM users WHERE name = 'x' OR 'a'='a'",
	} {
		if _, err := s.Screen(sql, analyst()); err == nil {
			t.Errorf("%q: expected deny", sql)
		}
	}
	// OR 1=2 is not a tautology.
	if _, err := s.Screen("SELECT * FROM users WHERE id = 1 OR 1=2", analyst()); err != nil {
		t.Errorf("OR 1=2 should pass: %v", err)
	}
}

func TestTimeProbeInjection(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	for _, sql := range []string{
		"SELECT SLEEP(10)",
		"SELECT * FROM t WHERE id=1 AND BENCHMARK(1000000, MD5('x'))",
		"SELECT 1; WAITFOR DELAY '0:0:10'",
	} {
		_, err := s.Screen(sql, analyst())
		var injErr *InjectionError
		if !errors.As(err, &injErr) {
			t.Errorf("%q: expected InjectionError, got %v", sql, err)
		}
	}
}

func TestCommentTruncationInjection(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	_, err := s.Screen("SELECT * FROM users WHERE id = 1 -- AND password = 'secret'", analyst())
	var injErr *InjectionError
	if !errors.As(err, &injErr) {
		t.Fatalf("expected InjectionError, got %v", err)
	}
	found := false
	for _, f := range injErr.Findings {
		if f.Code == "comment_truncation" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected comment_truncation finding, got %v", injErr.Findings)
	}
}

func TestLiteralsCannotTriggerHeuristics(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	// The suspicious text lives entirely inside a string literal.
	sql := `SELECT * FROM notes WHERE body = 'UNION SELECT; -- OR 1=1'`
	if _, err := s.Screen(sql, analyst()); err != nil {
		t.Errorf("literal content must not trigger findings: %v", err)
	}
}

func TestWarnTierFindingsAllowedBelowThreshold(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.BlockThreshold = RiskHigh
	s := NewScreener(cfg)
	v, err := s.Screen("SELECT name FROM users UNION SELECT name FROM archive_users", analyst())
	if err != nil {
		t.Fatalf("medium finding must pass under a high threshold: %v", err)
	}
	if len(v.Findings) == 0 || v.Risk != RiskMedium {
		t.Errorf("expected surfaced medium finding, got %+v", v)
	}
}

func TestComplexityRejected(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MaxComplexity = 20
	s := NewScreener(cfg)
	sql := `SELECT a.x FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id JOIN d ON c.id=d.id WHERE a.x = 1 AND b.y = 2 AND c.z = 3`
	_, err := s.Screen(sql, analyst())
	var cErr *ComplexityError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ComplexityError, got %v", err)
	}
	if cErr.Score <= cfg.MaxComplexity {
		t.Errorf("score %d should exceed %d", cErr.Score, cfg.MaxComplexity)
	}
}

func TestComplexQueryWithinBudgetAllowed(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	sql := strings.TrimSpace(`
		SELECT u.name, u.email, d.department_name
		FROM users u
		JOIN departments d ON u.department_id = d.id
		WHERE u.status = 'active'
		ORDER BY u.created_at DESC`)
	if _, err := s.Screen(sql, analyst()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthorizationAllowlist(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	p := Principal{ID: "restricted", Level: LevelInternal, AllowedTables: []string{"users"}}
	if _, err := s.Screen("SELECT * FROM users", p); err != nil {
		t.Errorf("allowlisted table must pass: %v", err)
	}
	_, err := s.Screen("SELECT * FROM orders", p)
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if authErr.Table != "orders" {
		t.Errorf("expected orders, got %q", authErr.Table)
	}
}

func TestAuthorizationSecurityLevel(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	internal := analyst()
	_, err := s.Screen("SELECT * FROM user_info", internal)
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("internal principal must not read confidential table, got %v", err)
	}

	admin := Principal{ID: "admin", Level: LevelSecret, AllowedTables: []string{"*"}}
	if _, err := s.Screen("SELECT * FROM payment_records", admin); err != nil {
		t.Errorf("secret principal must read secret table: %v", err)
	}
}

func TestAuthorizationMixedCaseClassification(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.SensitiveTables = map[string]Level{"Payment_Records": LevelSecret}
	s := NewScreener(cfg)
	// Keys are case-folded at construction, so casing in the config cannot
	// disable the clearance check.
	_, err := s.Screen("SELECT * FROM payment_records", analyst())
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("internal principal must not read secret table, got %v", err)
	}
	if _, err := s.Screen("SELECT * FROM PAYMENT_RECORDS", analyst()); !errors.As(err, &authErr) {
		t.Fatalf("upper-cased reference must still be classified, got %v", err)
	}
}

func TestAuthorizationQualifiedName(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	// Classification keys on the bare table name even when qualified.
	_, err := s.Screen("SELECT * FROM internal.finance.payment_records", analyst())
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError for qualified secret table, got %v", err)
	}
}

func TestExtractTableRefs(t *testing.T) {
	t.Parallel()
	bare, _ := bareStatement("SELECT u.name FROM internal.db.users u JOIN internal.db.departments d ON u.dept_id = d.id")
	refs := ExtractTableRefs(bare)
	want := []string{"internal.db.users", "internal.db.departments"}
	if len(refs) != len(want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("ref %d: expected %q, got %q", i, want[i], refs[i])
		}
	}
}

func TestExtractTableRefsDeduplicates(t *testing.T) {
	t.Parallel()
	bare, _ := bareStatement("SELECT * FROM users UNION ALL SELECT * FROM users")
	refs := ExtractTableRefs(bare)
	if len(refs) != 1 {
		t.Errorf("expected one deduplicated ref, got %v", refs)
	}
}

func TestMalformedSQLDoesNotPanic(t *testing.T) {
	t.Parallel()
	s := NewScreener(defaultConfig())
	for _, sql := range []string{"", "   ", "SELECT * FROM users WHERE", "'unterminated", "/* unterminated", "--"} {
		if _, err := s.Screen(sql, analyst()); err != nil {
			// Deny is acceptable; panicking is not.
			continue
		}
	}
}

func TestRiskScore(t *testing.T) {
	t.Parallel()
	if RiskNone.Score() != 0 || RiskLow.Score() != 25 || RiskMedium.Score() != 60 || RiskHigh.Score() != 90 {
		t.Error("risk score mapping changed")
	}
}
