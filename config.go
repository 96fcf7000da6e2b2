package dorismcp

import (
	"strconv"
	"strings"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig        `json:"pool"`
	Query        QueryConfig       `json:"query"`
	Security     SecurityConfig    `json:"security"`
	Cache        CacheConfig       `json:"cache"`
	Masking      MaskingConfig     `json:"masking"`
	Audit        AuditConfig       `json:"audit"`
	Catalog      CatalogConfig     `json:"catalog"`
	ErrorPrompts []ErrorPromptRule `json:"error_prompts,omitempty"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Auth       AuthConfig       `json:"auth"`
}

// ConnectionConfig holds Doris FE connection parameters used by CLI mode.
// The FE speaks the MySQL protocol.
type ConnectionConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Database string `json:"database"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MinConns                 int    `json:"min_conns"`
	MaxConns                 int    `json:"max_conns"`
	ConnectionTimeoutSeconds int    `json:"connection_timeout_seconds"`
	HealthCheckInterval      string `json:"health_check_interval"` // Go duration
	MaxConnAge               string `json:"max_conn_age"`          // Go duration
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds  int           `json:"default_timeout_seconds"`
	MetadataTimeoutSeconds int           `json:"metadata_timeout_seconds"`
	MaxConcurrent          int           `json:"max_concurrent"`
	MaxResultRows          int           `json:"max_result_rows"`
	MaxSQLLength           int           `json:"max_sql_length"`
	TimeoutRules           []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a statement pattern to a specific timeout.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps a backend error pattern to a remediation hint
// returned with the tool error. Empty rules fall back to built-in hints.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SecurityConfig controls the statement screen.
type SecurityConfig struct {
	Enabled bool `json:"enabled"`
	// BlockedKeywords overrides the default leading-keyword deny list
	// when non-empty.
	BlockedKeywords []string `json:"blocked_keywords"`
	// BlockThreshold is the lowest injection risk tier that blocks:
	// "low", "medium", or "high". Findings below it are audited only.
	BlockThreshold string `json:"block_threshold"`
	MaxComplexity  int    `json:"max_complexity"`
	// SensitiveTables maps bare table names to the minimum security level
	// required to read them ("public".."secret").
	SensitiveTables map[string]string `json:"sensitive_tables"`
}

// CacheConfig controls the query result cache.
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl_seconds"`
	MaxEntries int  `json:"max_entries"`
}

// MaskingConfig controls the result masker.
type MaskingConfig struct {
	Enabled bool `json:"enabled"`
	// Rules replace the default rule set when non-empty.
	Rules []MaskingRule `json:"rules"`
}

// MaskingRule is one column masking rule, applied in declaration order.
type MaskingRule struct {
	ColumnPattern string  `json:"column_pattern"`
	Algorithm     string  `json:"algorithm"` // phone_mask, email_mask, id_mask, name_mask, partial_mask
	MaskChar      string  `json:"mask_char"`
	KeepPrefix    int     `json:"keep_prefix"`
	KeepSuffix    int     `json:"keep_suffix"`
	MaskRatio     float64 `json:"mask_ratio"`
	// MinLevel is the security level at which the value passes unmasked.
	MinLevel string `json:"min_level"`
}

// AuditConfig controls audit record emission.
type AuditConfig struct {
	Enabled bool `json:"enabled"`
	// MemoryBuffer keeps the newest N records queryable in-process.
	// Zero disables the in-memory sink; records still go to the log.
	MemoryBuffer int `json:"memory_buffer"`
}

// CatalogConfig controls identifier resolution.
type CatalogConfig struct {
	// Permissive auto-qualifies short names with the defaults below
	// instead of rejecting them.
	Permissive             bool   `json:"permissive"`
	DefaultCatalog         string `json:"default_catalog"`
	DefaultDatabase        string `json:"default_database"`
	RefreshIntervalSeconds int    `json:"refresh_interval_seconds"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	// Transport selects how the MCP server is exposed: "http" (streamable
	// HTTP) or "stdio". Empty means http.
	Transport          string `json:"transport"`
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	Output     string `json:"output"` // stdout, or file path
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// AuthConfig holds token authentication settings for CLI mode.
type AuthConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"secret"`
	Issuer  string `json:"issuer"`
}

// DefaultConfig returns the settings used when neither environment nor
// config file overrides them.
func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			MinConns:                 2,
			MaxConns:                 10,
			ConnectionTimeoutSeconds: 30,
			HealthCheckInterval:      "1m",
			MaxConnAge:               "1h",
		},
		Query: QueryConfig{
			DefaultTimeoutSeconds:  30,
			MetadataTimeoutSeconds: 10,
			MaxConcurrent:          10,
			MaxResultRows:          10000,
			MaxSQLLength:           100000,
		},
		Security: SecurityConfig{
			Enabled:        true,
			BlockThreshold: "medium",
			MaxComplexity:  100,
			SensitiveTables: map[string]string{
				"user_info":       "confidential",
				"payment_records": "secret",
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 300,
			MaxEntries: 1000,
		},
		Masking: MaskingConfig{Enabled: true},
		Audit:   AuditConfig{Enabled: true, MemoryBuffer: 1000},
		Catalog: CatalogConfig{RefreshIntervalSeconds: 60},
	}
}

// FromEnv overlays the environment configuration surface onto base.
// getenv is injectable for tests; pass os.Getenv in production. Unset and
// malformed values leave the base value untouched.
func FromEnv(base Config, getenv func(string) string) Config {
	setInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("DORIS_MIN_CONNECTIONS", &base.Pool.MinConns)
	setInt("DORIS_MAX_CONNECTIONS", &base.Pool.MaxConns)
	setInt("DORIS_CONNECTION_TIMEOUT", &base.Pool.ConnectionTimeoutSeconds)
	setString("DORIS_HEALTH_CHECK_INTERVAL", &base.Pool.HealthCheckInterval)
	setString("DORIS_MAX_CONNECTION_AGE", &base.Pool.MaxConnAge)

	setBool("ENABLE_QUERY_CACHE", &base.Cache.Enabled)
	setInt("CACHE_TTL", &base.Cache.TTLSeconds)
	setInt("MAX_CACHE_SIZE", &base.Cache.MaxEntries)

	setInt("MAX_CONCURRENT_QUERIES", &base.Query.MaxConcurrent)
	setInt("QUERY_TIMEOUT", &base.Query.DefaultTimeoutSeconds)
	setInt("MAX_RESULT_ROWS", &base.Query.MaxResultRows)

	setBool("ENABLE_SECURITY_CHECK", &base.Security.Enabled)
	if v := getenv("BLOCKED_KEYWORDS"); v != "" {
		var kws []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kws = append(kws, k)
			}
		}
		base.Security.BlockedKeywords = kws
	}
	setInt("MAX_QUERY_COMPLEXITY", &base.Security.MaxComplexity)

	setBool("ENABLE_MASKING", &base.Masking.Enabled)
	setBool("ENABLE_AUDIT", &base.Audit.Enabled)

	return base
}

// DefaultBlockedKeywords is the leading-keyword deny list applied when the
// config does not override it.
func DefaultBlockedKeywords() []string {
	return []string{
		"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
		"INSERT", "UPDATE", "GRANT", "REVOKE", "EXEC",
		"SHUTDOWN", "KILL",
	}
}
