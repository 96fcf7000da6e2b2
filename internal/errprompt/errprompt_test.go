package errprompt

import (
	"strings"
	"testing"
)

func TestMatchUnknownTable(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Match("errCode = 2, detailMessage = Unknown table 'orders'")
	if got == "" {
		t.Fatal("expected a hint for an unknown table error, got empty string")
	}
	if !strings.Contains(got, "get_db_table_list") {
		t.Fatalf("hint should point at the metadata tools: %s", got)
	}
}

func TestMatchUnknownColumn(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Match("Unknown column 'phnoe' in 'table list'")
	if !strings.Contains(got, "get_table_schema") {
		t.Fatalf("hint should point at get_table_schema: %s", got)
	}
}

func TestNoMatch(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Match("some other error"); got != "" {
		t.Fatalf("expected empty string for non-matching error, got: %s", got)
	}
}

func TestMultipleMatches(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Rule{
		{Pattern: `(?i)timeout`, Message: "Add predicates to narrow the scan."},
		{Pattern: `(?i)cancelled`, Message: "The backend cancelled the query."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Match("query timeout, cancelled by backend")
	expected := "Add predicates to narrow the scan.\nThe backend cancelled the query."
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestEmptyRules(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Rule{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Match("any error at all"); got != "" {
		t.Fatalf("expected empty string with no rules, got: %s", got)
	}
}

func TestNewMatcherErrorsOnInvalidRegex(t *testing.T) {
	t.Parallel()
	_, err := NewMatcher([]Rule{
		{Pattern: `[invalid`, Message: "should not compile"},
	})
	if err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
	if !strings.Contains(err.Error(), "invalid regex pattern") {
		t.Fatalf("expected error to contain 'invalid regex pattern', got: %s", err)
	}
	if !strings.Contains(err.Error(), "[invalid") {
		t.Fatalf("expected error to contain the invalid pattern, got: %s", err)
	}
}
