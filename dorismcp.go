package dorismcp

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/zhenghao-lu/doris-mcp/internal/audit"
	"github.com/zhenghao-lu/doris-mcp/internal/cache"
	"github.com/zhenghao-lu/doris-mcp/internal/catalog"
	"github.com/zhenghao-lu/doris-mcp/internal/errprompt"
	"github.com/zhenghao-lu/doris-mcp/internal/masking"
	"github.com/zhenghao-lu/doris-mcp/internal/pool"
	"github.com/zhenghao-lu/doris-mcp/internal/sanitize"
	"github.com/zhenghao-lu/doris-mcp/internal/security"
	"github.com/zhenghao-lu/doris-mcp/internal/timeout"
)

// DorisMcp is the core engine that owns the pooled backend connections and
// the execution pipeline behind every tool. All exported methods are safe
// for concurrent use from multiple goroutines.
type DorisMcp struct {
	config     Config
	db         *sql.DB // nil when a custom dialer is injected
	pool       *pool.Pool
	semaphore  chan struct{}
	screener   *security.Screener // nil when screening is disabled
	resolver   *catalog.Resolver
	cache      *cache.Cache    // nil when caching is disabled
	masker     *masking.Masker // nil when masking is disabled
	auditSink  audit.Sink      // nil when auditing is disabled
	memAudit   *audit.MemorySink
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	dialer    pool.Dialer
	lister    catalog.Lister
	auditSink audit.Sink
}

// WithDialer replaces the production MySQL-protocol dialer. Tests use this
// to run the full pipeline against fake connections.
func WithDialer(d pool.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCatalogLister replaces the production catalog lister (SHOW CATALOGS
// through the pool).
func WithCatalogLister(l catalog.Lister) Option {
	return func(o *options) { o.lister = l }
}

// WithAuditSink replaces the default log+memory audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(o *options) { o.auditSink = s }
}

// New creates a DorisMcp engine. dsn is a go-sql-driver DSN pointing at a
// Doris FE node (the FE speaks the MySQL protocol); it is required unless
// WithDialer is supplied. Panics on invalid config. Returns an error only
// for runtime failures such as an unreachable backend during eager dialing.
func New(ctx context.Context, dsn string, config Config, logger zerolog.Logger, opts ...Option) (*DorisMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if dsn == "" && o.dialer == nil {
		panic("dorismcp: dsn must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("dorismcp: pool.max_conns must be > 0")
	}
	if config.Pool.MinConns < 0 || config.Pool.MinConns > config.Pool.MaxConns {
		panic("dorismcp: pool.min_conns must be within [0, max_conns]")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("dorismcp: query.default_timeout_seconds must be > 0")
	}
	if config.Query.MetadataTimeoutSeconds <= 0 {
		panic("dorismcp: query.metadata_timeout_seconds must be > 0")
	}
	if config.Query.MaxConcurrent <= 0 {
		panic("dorismcp: query.max_concurrent must be > 0")
	}
	if config.Query.MaxResultRows <= 0 {
		panic("dorismcp: query.max_result_rows must be > 0")
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("dorismcp: query.max_sql_length must be > 0")
	}

	healthInterval := mustDuration("pool.health_check_interval", config.Pool.HealthCheckInterval, time.Minute)
	maxConnAge := mustDuration("pool.max_conn_age", config.Pool.MaxConnAge, time.Hour)

	// --- Backend dialer ---

	var db *sql.DB
	dialer := o.dialer
	if dialer == nil {
		mysqlCfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse backend DSN: %w", err)
		}
		mysqlCfg.ParseTime = true
		if mysqlCfg.Timeout == 0 {
			mysqlCfg.Timeout = time.Duration(config.Pool.ConnectionTimeoutSeconds) * time.Second
		}
		connector, err := mysql.NewConnector(mysqlCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build backend connector: %w", err)
		}
		db = sql.OpenDB(connector)
		// The pool below owns connection lifecycle; database/sql must not
		// keep idle physical connections of its own, so a Close on a
		// *sql.Conn is a physical close.
		db.SetMaxIdleConns(0)
		dialer = func(ctx context.Context) (pool.Conn, error) {
			return db.Conn(ctx)
		}
	}

	// --- Internal components ---

	backendPool := pool.New(pool.Config{
		Min:                 config.Pool.MinConns,
		Max:                 config.Pool.MaxConns,
		AcquireTimeout:      time.Duration(config.Pool.ConnectionTimeoutSeconds) * time.Second,
		HealthCheckInterval: healthInterval,
		MaxConnAge:          maxConnAge,
	}, dialer, logger)

	var screener *security.Screener
	if config.Security.Enabled {
		screener = security.NewScreener(security.Config{
			BlockedKeywords: blockedKeywords(config.Security),
			BlockThreshold:  mustRisk(config.Security.BlockThreshold),
			MaxComplexity:   config.Security.MaxComplexity,
			SensitiveTables: mustSensitiveTables(config.Security.SensitiveTables),
		})
	}

	var queryCache *cache.Cache
	if config.Cache.Enabled {
		ttl := config.Cache.TTLSeconds
		if ttl <= 0 {
			ttl = 300
		}
		maxEntries := config.Cache.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 1000
		}
		queryCache = cache.New(cache.Config{
			MaxEntries: maxEntries,
			TTL:        time.Duration(ttl) * time.Second,
		})
	}

	var masker *masking.Masker
	if config.Masking.Enabled {
		rules := masking.DefaultRules()
		if len(config.Masking.Rules) > 0 {
			rules = mapMaskingRules(config.Masking.Rules)
		}
		m, err := masking.NewMasker(rules)
		if err != nil {
			panic(fmt.Sprintf("dorismcp: invalid masking rules: %v", err))
		}
		masker = m
	}

	var auditSink audit.Sink
	var memAudit *audit.MemorySink
	if config.Audit.Enabled {
		if o.auditSink != nil {
			auditSink = o.auditSink
		} else {
			sinks := audit.MultiSink{audit.NewLogSink(logger)}
			if config.Audit.MemoryBuffer > 0 {
				memAudit = audit.NewMemorySink(config.Audit.MemoryBuffer)
				sinks = append(sinks, memAudit)
			}
			auditSink = sinks
		}
	}

	sanitizer, err := sanitize.NewSanitizer(sanitize.DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("dorismcp: default sanitization rules: %v", err))
	}

	promptRules := errprompt.DefaultRules()
	if len(config.ErrorPrompts) > 0 {
		promptRules = make([]errprompt.Rule, len(config.ErrorPrompts))
		for i, r := range config.ErrorPrompts {
			promptRules[i] = errprompt.Rule{Pattern: r.Pattern, Message: r.Message}
		}
	}
	errPrompts, err := errprompt.NewMatcher(promptRules)
	if err != nil {
		panic(fmt.Sprintf("dorismcp: invalid error prompt rules: %v", err))
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		Default: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:   timeoutRules,
	})

	d := &DorisMcp{
		config:     config,
		db:         db,
		pool:       backendPool,
		semaphore:  make(chan struct{}, config.Query.MaxConcurrent),
		screener:   screener,
		cache:      queryCache,
		masker:     masker,
		auditSink:  auditSink,
		memAudit:   memAudit,
		sanitizer:  sanitizer,
		errPrompts: errPrompts,
		timeoutMgr: tmgr,
		logger:     logger,
	}

	lister := o.lister
	if lister == nil {
		lister = catalog.ListerFunc(d.fetchCatalogs)
	}
	refreshInterval := time.Duration(config.Catalog.RefreshIntervalSeconds) * time.Second
	d.resolver = catalog.NewResolver(catalog.Config{
		Permissive:      config.Catalog.Permissive,
		DefaultCatalog:  config.Catalog.DefaultCatalog,
		DefaultDatabase: config.Catalog.DefaultDatabase,
		RefreshInterval: refreshInterval,
	}, lister)

	return d, nil
}

// Ping checks backend reachability by acquiring a pooled connection and
// pinging it.
func (d *DorisMcp) Ping(ctx context.Context) error {
	pc, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	err = pc.PingContext(ctx)
	d.pool.Release(pc, err == nil)
	return err
}

// Close shuts down the pool and the underlying database handle. Accepts a
// context for API forward-compatibility; shutdown itself is synchronous.
func (d *DorisMcp) Close(ctx context.Context) {
	d.pool.Close()
	if d.db != nil {
		d.db.Close()
	}
}

// AuditRecords returns the newest buffered audit records, if the in-memory
// sink is configured. Intended for operational inspection and tests.
func (d *DorisMcp) AuditRecords() []audit.Record {
	if d.memAudit == nil {
		return nil
	}
	return d.memAudit.Records()
}

// CacheStats returns cache hit/miss counters; zeros when caching is off.
func (d *DorisMcp) CacheStats() (hits, misses int64) {
	if d.cache == nil {
		return 0, 0
	}
	return d.cache.Stats()
}

func blockedKeywords(cfg SecurityConfig) []string {
	if len(cfg.BlockedKeywords) > 0 {
		return cfg.BlockedKeywords
	}
	return DefaultBlockedKeywords()
}

func mustDuration(field, s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("dorismcp: invalid %s %q: %v", field, s, err))
	}
	return d
}

func mustRisk(s string) security.Risk {
	switch s {
	case "", "medium":
		return security.RiskMedium
	case "low":
		return security.RiskLow
	case "high":
		return security.RiskHigh
	}
	panic(fmt.Sprintf("dorismcp: invalid security.block_threshold %q", s))
}

func mustSensitiveTables(tables map[string]string) map[string]security.Level {
	out := make(map[string]security.Level, len(tables))
	for name, lvl := range tables {
		parsed, err := ParseSecurityLevel(lvl)
		if err != nil {
			panic(fmt.Sprintf("dorismcp: sensitive table %q: %v", name, err))
		}
		out[name] = security.Level(parsed)
	}
	return out
}

// mapMaskingRules converts config MaskingRules to internal masking.Rules.
func mapMaskingRules(rules []MaskingRule) []masking.Rule {
	out := make([]masking.Rule, len(rules))
	for i, r := range rules {
		minLevel := masking.LevelConfidential
		if r.MinLevel != "" {
			parsed, err := masking.ParseLevel(r.MinLevel)
			if err != nil {
				panic(fmt.Sprintf("dorismcp: masking rule %q: %v", r.ColumnPattern, err))
			}
			minLevel = parsed
		}
		out[i] = masking.Rule{
			ColumnPattern: r.ColumnPattern,
			Algorithm:     masking.Algorithm(r.Algorithm),
			Params: masking.Params{
				MaskChar:   r.MaskChar,
				KeepPrefix: r.KeepPrefix,
				KeepSuffix: r.KeepSuffix,
				MaskRatio:  r.MaskRatio,
			},
			MinLevel: minLevel,
		}
	}
	return out
}
