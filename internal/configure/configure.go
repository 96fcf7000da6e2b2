// Package configure implements the interactive configuration wizard used
// by the CLI's configure subcommand.
package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	dorismcp "github.com/zhenghao-lu/doris-mcp"
)

// Run runs the interactive configuration wizard.
// Reads existing config (if any), prompts for each field,
// writes updated config to the given path.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "doris-mcp configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n\n", configPath)

	// Connection
	fmt.Fprintf(output, "=== Connection (Doris FE, MySQL protocol) ===\n")
	cfg.Connection.Host = p.promptString("connection.host", cfg.Connection.Host)
	cfg.Connection.Port = p.promptPositiveInt("connection.port", cfg.Connection.Port, "FE query port, usually 9030")
	cfg.Connection.User = p.promptString("connection.user", cfg.Connection.User)
	cfg.Connection.Database = p.promptStringWithHint("connection.database", cfg.Connection.Database, "initial database, may be empty")

	// Server
	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Transport = p.promptEnum("server.transport", cfg.Server.Transport, transports)
	cfg.Server.Port = p.promptPositiveInt("server.port", cfg.Server.Port, "must be > 0, used by the http transport")
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptStringWithHint("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /health, required when health_check_enabled is true")

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stdout, stderr, or file path (rotated)")
	cfg.Logging.MaxSizeMB = p.promptNonNegativeInt("logging.max_size_mb", cfg.Logging.MaxSizeMB, "rotate size, 0 = library default")
	cfg.Logging.MaxBackups = p.promptNonNegativeInt("logging.max_backups", cfg.Logging.MaxBackups, "rotated files kept, 0 = keep all")

	// Auth
	fmt.Fprintf(output, "\n=== Auth ===\n")
	cfg.Auth.Enabled = p.promptBool("auth.enabled", cfg.Auth.Enabled)
	if cfg.Auth.Enabled {
		cfg.Auth.Secret = p.promptStringWithHint("auth.secret", cfg.Auth.Secret, "HS256 signing secret, required")
		cfg.Auth.Issuer = p.promptStringWithHint("auth.issuer", cfg.Auth.Issuer, "expected token issuer, empty = any")
	}

	// Pool
	fmt.Fprintf(output, "\n=== Pool ===\n")
	cfg.Pool.MaxConns = p.promptPositiveInt("pool.max_conns", cfg.Pool.MaxConns, "must be > 0")
	cfg.Pool.MinConns = p.promptNonNegativeInt("pool.min_conns", cfg.Pool.MinConns, "must be >= 0")
	cfg.Pool.ConnectionTimeoutSeconds = p.promptPositiveInt("pool.connection_timeout_seconds", cfg.Pool.ConnectionTimeoutSeconds, "seconds, must be > 0")
	cfg.Pool.HealthCheckInterval = p.promptDuration("pool.health_check_interval", cfg.Pool.HealthCheckInterval, "Go duration: e.g. 1m, 30s")
	cfg.Pool.MaxConnAge = p.promptDuration("pool.max_conn_age", cfg.Pool.MaxConnAge, "Go duration: e.g. 1h, 30m")

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultTimeoutSeconds = p.promptPositiveInt("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.MetadataTimeoutSeconds = p.promptPositiveInt("query.metadata_timeout_seconds", cfg.Query.MetadataTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.MaxConcurrent = p.promptPositiveInt("query.max_concurrent", cfg.Query.MaxConcurrent, "must be > 0")
	cfg.Query.MaxResultRows = p.promptPositiveInt("query.max_result_rows", cfg.Query.MaxResultRows, "must be > 0")
	cfg.Query.MaxSQLLength = p.promptPositiveInt("query.max_sql_length", cfg.Query.MaxSQLLength, "bytes, must be > 0")

	// Security
	fmt.Fprintf(output, "\n=== Security ===\n")
	cfg.Security.Enabled = p.promptBool("security.enabled", cfg.Security.Enabled)
	cfg.Security.BlockThreshold = p.promptEnum("security.block_threshold", cfg.Security.BlockThreshold, riskTiers)
	cfg.Security.MaxComplexity = p.promptNonNegativeInt("security.max_complexity", cfg.Security.MaxComplexity, "0 disables the complexity cap")
	cfg.Security.BlockedKeywords = p.promptKeywords("security.blocked_keywords", cfg.Security.BlockedKeywords)

	fmt.Fprintf(output, "\n=== Sensitive Tables ===\n")
	cfg.Security.SensitiveTables = p.promptSensitiveTables(cfg.Security.SensitiveTables)

	// Cache
	fmt.Fprintf(output, "\n=== Cache ===\n")
	cfg.Cache.Enabled = p.promptBool("cache.enabled", cfg.Cache.Enabled)
	cfg.Cache.TTLSeconds = p.promptPositiveInt("cache.ttl_seconds", cfg.Cache.TTLSeconds, "seconds, must be > 0")
	cfg.Cache.MaxEntries = p.promptPositiveInt("cache.max_entries", cfg.Cache.MaxEntries, "must be > 0")

	// Masking and audit
	fmt.Fprintf(output, "\n=== Masking ===\n")
	cfg.Masking.Enabled = p.promptBool("masking.enabled", cfg.Masking.Enabled)
	cfg.Masking.Rules = p.promptMaskingRules(cfg.Masking.Rules)

	fmt.Fprintf(output, "\n=== Audit ===\n")
	cfg.Audit.Enabled = p.promptBool("audit.enabled", cfg.Audit.Enabled)
	cfg.Audit.MemoryBuffer = p.promptNonNegativeInt("audit.memory_buffer", cfg.Audit.MemoryBuffer, "records kept in memory, 0 disables")

	// Catalog
	fmt.Fprintf(output, "\n=== Catalog ===\n")
	cfg.Catalog.Permissive = p.promptBool("catalog.permissive", cfg.Catalog.Permissive)
	if cfg.Catalog.Permissive {
		cfg.Catalog.DefaultCatalog = p.promptStringWithHint("catalog.default_catalog", cfg.Catalog.DefaultCatalog, "required in permissive mode")
		cfg.Catalog.DefaultDatabase = p.promptStringWithHint("catalog.default_database", cfg.Catalog.DefaultDatabase, "used to qualify bare table names")
	}
	cfg.Catalog.RefreshIntervalSeconds = p.promptPositiveInt("catalog.refresh_interval_seconds", cfg.Catalog.RefreshIntervalSeconds, "seconds, must be > 0")

	// Array fields
	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = p.promptTimeoutRules(cfg.Query.TimeoutRules)

	// Write config
	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

func loadExisting(configPath string) (*dorismcp.ServerConfig, bool) {
	cfg := &dorismcp.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Ignore unmarshal errors, start with whatever was parseable.
	_ = json.Unmarshal(data, cfg)
	return cfg, false
}

// applyDefaults sets sensible default values for a new configuration.
func applyDefaults(cfg *dorismcp.ServerConfig) {
	cfg.Config = dorismcp.DefaultConfig()
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 9030
	cfg.Connection.User = "root"
	cfg.Server.Transport = "http"
	cfg.Server.Port = 8080
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
}

var (
	transports = []string{"http", "stdio"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
	riskTiers  = []string{"low", "medium", "high"}
	levels     = []string{"public", "internal", "confidential", "secret"}
	algorithms = []string{"phone_mask", "email_mask", "id_mask", "name_mask", "partial_mask"}
)

func writeConfig(configPath string, cfg *dorismcp.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Append trailing newline.
	data = append(data, '\n')

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}

	return nil
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) promptString(field string, current string) string {
	fmt.Fprintf(p.output, "%s (%s: %q): ", field, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

func (p *prompter) promptPositiveInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptNonNegativeInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val < 0 {
			fmt.Fprintf(p.output, "  Value must be >= 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	for {
		fmt.Fprintf(p.output, "%s (%s: %v): ", field, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1":
			return true
		case "false", "f", "no", "n", "0":
			return false
		default:
			fmt.Fprintf(p.output, "  Invalid value %q, use true/false/yes/no, try again.\n", input)
		}
	}
}

func (p *prompter) promptDuration(field string, current string, hint string) string {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		if _, err := time.ParseDuration(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid Go duration %q, try again.\n", input)
			continue
		}
		return input
	}
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	for {
		fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", field, p.valueLabel(), current, strings.Join(allowed, ", "))
		input := p.readLine()
		if input == "" {
			return current
		}
		for _, v := range allowed {
			if input == v {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(allowed, ", "))
	}
}

// promptKeywords edits a comma-separated keyword list in one line.
func (p *prompter) promptKeywords(field string, current []string) []string {
	fmt.Fprintf(p.output, "%s [comma-separated, empty keeps %s, '-' clears] (%s: %s): ",
		field, p.valueLabel(), p.valueLabel(), strings.Join(current, ","))
	input := p.readLine()
	if input == "" {
		return current
	}
	if input == "-" {
		return nil
	}
	var kws []string
	for _, k := range strings.Split(input, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, strings.ToUpper(k))
		}
	}
	return kws
}

// Map and array field editors

func (p *prompter) promptSensitiveTables(current map[string]string) map[string]string {
	tables := current
	for {
		p.displaySensitiveTables(tables)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			name := p.promptNewField("table name")
			if name == "" {
				continue
			}
			level := p.promptNewEnumField("min level", levels)
			if tables == nil {
				tables = map[string]string{}
			}
			tables[strings.ToLower(name)] = level
		case "r":
			name := p.promptNewField("table name to remove")
			if _, ok := tables[strings.ToLower(name)]; !ok {
				fmt.Fprintf(p.output, "  No such entry.\n")
				continue
			}
			delete(tables, strings.ToLower(name))
		case "c", "":
			return tables
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displaySensitiveTables(tables map[string]string) {
	if len(tables) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for _, name := range sortedKeys(tables) {
		fmt.Fprintf(p.output, "  %s = %s\n", name, tables[name])
	}
}

func (p *prompter) promptTimeoutRules(current []dorismcp.TimeoutRule) []dorismcp.TimeoutRule {
	rules := current
	for {
		p.displayTimeoutRules(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			timeout := p.promptNewPositiveIntField("timeout_seconds")
			rules = append(rules, dorismcp.TimeoutRule{
				Pattern:        pattern,
				TimeoutSeconds: timeout,
			})
		case "r":
			rules = removeByIndex(p, "timeout rule", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayTimeoutRules(rules []dorismcp.TimeoutRule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] pattern=%q timeout_seconds=%d\n", i, r.Pattern, r.TimeoutSeconds)
	}
}

func (p *prompter) promptMaskingRules(current []dorismcp.MaskingRule) []dorismcp.MaskingRule {
	rules := current
	for {
		p.displayMaskingRules(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? (empty list = built-in rules) ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("column_pattern")
			algorithm := p.promptNewEnumField("algorithm", algorithms)
			level := p.promptNewEnumField("min_level", levels)
			rules = append(rules, dorismcp.MaskingRule{
				ColumnPattern: pattern,
				Algorithm:     algorithm,
				MinLevel:      level,
			})
		case "r":
			rules = removeByIndex(p, "masking rule", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayMaskingRules(rules []dorismcp.MaskingRule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] column_pattern=%q algorithm=%q min_level=%q\n",
			i, r.ColumnPattern, r.Algorithm, r.MinLevel)
	}
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

func (p *prompter) promptNewEnumField(name string, allowed []string) string {
	for {
		fmt.Fprintf(p.output, "  %s (options: %s): ", name, strings.Join(allowed, ", "))
		input := p.readLine()
		for _, v := range allowed {
			if input == v {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(allowed, ", "))
	}
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	for {
		fmt.Fprintf(p.output, "  %s (must be > 0): ", name)
		input := p.readLine()
		if input == "" {
			fmt.Fprintf(p.output, "  Value is required and must be > 0, try again.\n")
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

// removeByIndex is a generic helper for removing an element by index from a slice.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	input := p.readLine()
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
