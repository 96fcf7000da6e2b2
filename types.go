package dorismcp

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SecurityLevel is the ordered classification gating masked-column
// visibility and sensitive-table access.
type SecurityLevel int

const (
	LevelPublic SecurityLevel = iota
	LevelInternal
	LevelConfidential
	LevelSecret
)

// ParseSecurityLevel maps a config/claim string to a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
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
	return 0, fmt.Errorf("dorismcp: unknown security level %q", s)
}

func (l SecurityLevel) String() string {
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

// SecurityContext identifies the caller for one invocation. Immutable once
// built; the auth layer constructs it, the engine only reads it.
type SecurityContext struct {
	PrincipalID   string
	AuthMethod    string // "token", "anonymous"
	Level         SecurityLevel
	AllowedTables []string // three-part or bare names, or ["*"] for wildcard
	SessionID     string
}

// AnonymousContext is handed to callers when authentication is disabled.
func AnonymousContext(sessionID string) SecurityContext {
	return SecurityContext{
		PrincipalID:   "anonymous",
		AuthMethod:    "anonymous",
		Level:         LevelPublic,
		AllowedTables: []string{"*"},
		SessionID:     sessionID,
	}
}

type securityContextKey struct{}

// ContextWithSecurity attaches a SecurityContext to ctx. The transport layer
// calls this after token verification; tool handlers read it back.
func ContextWithSecurity(ctx context.Context, sctx SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sctx)
}

// SecurityFromContext returns the attached SecurityContext, or false when
// the transport never authenticated the call.
func SecurityFromContext(ctx context.Context) (SecurityContext, bool) {
	sctx, ok := ctx.Value(securityContextKey{}).(SecurityContext)
	return sctx, ok
}

// ExecQueryInput is the input for the exec_query tool.
type ExecQueryInput struct {
	Statement   string `json:"statement"`
	CatalogName string `json:"catalog_name,omitempty"`
	DBName      string `json:"db_name,omitempty"`
	MaxRows     int    `json:"max_rows,omitempty"`
	// Timeout caps this statement's execution; zero means server default.
	Timeout time.Duration `json:"-"`
}

// ExecQueryOutput is the result of the exec_query tool. All failures land in
// Error with a classified kind; callers only need to check Error.
type ExecQueryOutput struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated,omitempty"`
	CacheHit  bool                     `json:"cache_hit,omitempty"`
	ErrorKind string                   `json:"error_kind,omitempty"`
	Error     string                   `json:"error,omitempty"`
	// Hint carries remediation guidance matched from the error message.
	Hint string `json:"hint,omitempty"`
}

// CatalogEntry is one catalog visible to the cluster.
type CatalogEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "internal" or "external"
}

// CatalogListOutput is the result of the get_catalog_list tool.
type CatalogListOutput struct {
	Catalogs []CatalogEntry `json:"catalogs"`
	Error    string         `json:"error,omitempty"`
}

// DBListInput is the input for the get_db_list tool.
type DBListInput struct {
	CatalogName string `json:"catalog_name,omitempty"`
}

// DBListOutput is the result of the get_db_list tool.
type DBListOutput struct {
	Databases []string `json:"databases"`
	Error     string   `json:"error,omitempty"`
}

// TableListInput is the input for the get_db_table_list tool.
type TableListInput struct {
	CatalogName string `json:"catalog_name,omitempty"`
	DBName      string `json:"db_name"`
}

// TableListOutput is the result of the get_db_table_list tool.
type TableListOutput struct {
	Tables []string `json:"tables"`
	Error  string   `json:"error,omitempty"`
}

// TableSchemaInput is the input for the get_table_schema tool.
type TableSchemaInput struct {
	CatalogName string `json:"catalog_name,omitempty"`
	DBName      string `json:"db_name"`
	TableName   string `json:"table_name"`
}

// ColumnInfo describes a single column of a Doris table.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Key      string `json:"key,omitempty"`
	Default  string `json:"default,omitempty"`
	Extra    string `json:"extra,omitempty"`
}

// TableSchemaOutput is the result of the get_table_schema tool.
type TableSchemaOutput struct {
	Catalog  string       `json:"catalog"`
	Database string       `json:"database"`
	Table    string       `json:"table"`
	Columns  []ColumnInfo `json:"columns"`
	Error    string       `json:"error,omitempty"`
}
