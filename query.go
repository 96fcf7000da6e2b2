package dorismcp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhenghao-lu/doris-mcp/internal/audit"
	"github.com/zhenghao-lu/doris-mcp/internal/cache"
	"github.com/zhenghao-lu/doris-mcp/internal/masking"
	"github.com/zhenghao-lu/doris-mcp/internal/security"
)

// admissionWait bounds the brief queue a saturated call may wait in before
// it is rejected outright.
const admissionWait = 500 * time.Millisecond

// ExecQuery runs the full execution pipeline: admission, security screen,
// catalog resolution, cache lookup, pooled backend execution, truncation,
// masking, audit. All failures are converted into output.Error with a
// classified kind, so callers only need to check output.Error. Exactly one
// audit record is emitted per call, success or failure.
func (d *DorisMcp) ExecQuery(ctx context.Context, sctx SecurityContext, input ExecQueryInput) *ExecQueryOutput {
	start := time.Now()
	stmt := input.Statement
	rec := audit.NewRecord(sctx.PrincipalID, sctx.SessionID, "exec_query", truncateForLog(stmt, 200))

	// 1. Admission: in-flight backend executions are capped. A saturated
	// call queues briefly, then fails fast instead of piling up.
	select {
	case d.semaphore <- struct{}{}:
	default:
		select {
		case d.semaphore <- struct{}{}:
		case <-time.After(admissionWait):
			return d.failQuery(rec, &QueryError{
				Kind:    KindAdmissionRejected,
				Message: fmt.Sprintf("all %d query slots are busy", cap(d.semaphore)),
			})
		case <-ctx.Done():
			return d.failQuery(rec, &QueryError{
				Kind:    KindAdmissionRejected,
				Message: "cancelled while waiting for a query slot",
			})
		}
	}
	defer func() { <-d.semaphore }()

	// 2. Statement length bound, before any lexical processing.
	if len(stmt) > d.config.Query.MaxSQLLength {
		return d.failQuery(rec, &QueryError{
			Kind:    KindSyntaxRejected,
			Message: fmt.Sprintf("statement length %d exceeds maximum of %d bytes", len(stmt), d.config.Query.MaxSQLLength),
		})
	}

	// 3. Security screen. Nothing executes before the screen allows it.
	var verdict *security.Verdict
	if d.screener != nil {
		v, err := d.screener.Screen(stmt, security.Principal{
			ID:            sctx.PrincipalID,
			Level:         security.Level(sctx.Level),
			AllowedTables: sctx.AllowedTables,
		})
		if err != nil {
			return d.failQuery(rec, err)
		}
		verdict = v
	} else {
		verdict = &security.Verdict{
			Statement: stmt,
			Tables:    security.ExtractTableRefs(security.Bare(stmt)),
		}
	}
	rec.RiskScore = verdict.Risk.Score()

	// 4. Catalog resolution: every referenced table must resolve to a
	// known catalog under the three-part naming rule.
	resolved := make([]string, 0, len(verdict.Tables))
	for _, ref := range verdict.Tables {
		_, parts, err := d.resolver.Resolve(ctx, qualifyRef(ref, input.CatalogName, input.DBName))
		if err != nil {
			return d.failQuery(rec, err)
		}
		resolved = append(resolved, parts.String())
	}

	// 5. Effective row limit.
	limit := d.config.Query.MaxResultRows
	if input.MaxRows > 0 && input.MaxRows < limit {
		limit = input.MaxRows
	}

	// 6. Cache lookup, read-only statements only. The key carries the
	// requester level, so a hit can never cross masking profiles.
	var entry *cache.Entry
	var cacheHit bool
	if d.cache != nil && readOnlyStatement(stmt) {
		key := cache.Key(cache.Normalize(stmt), resolved, limit, int(sctx.Level))
		if e, ok := d.cache.Get(key, int(sctx.Level)); ok {
			entry, cacheHit = e, true
		} else {
			e, shared, err := d.cache.Do(key, func() (*cache.Entry, error) {
				fresh, err := d.executeBackend(ctx, stmt, limit, int(sctx.Level), input.Timeout)
				if err != nil {
					return nil, err
				}
				d.cache.Put(key, fresh)
				return fresh, nil
			})
			if err != nil {
				return d.failQuery(rec, err)
			}
			entry, cacheHit = e, shared
		}
	} else {
		e, err := d.executeBackend(ctx, stmt, limit, int(sctx.Level), input.Timeout)
		if err != nil {
			return d.failQuery(rec, err)
		}
		entry = e
	}

	// 7. Mask a copy of the rows; the cached entry keeps the raw values
	// and every return path re-masks for its own requester.
	rows := entry.CloneRows()
	if d.masker != nil {
		rows = d.masker.MaskRows(rows, entry.Columns, masking.Level(sctx.Level))
	}

	rec.Verdict = audit.VerdictAllowed
	d.appendAudit(rec)

	logEvent := d.logger.Info().
		Str("statement", truncateForLog(stmt, 200)).
		Dur("duration", time.Since(start)).
		Int("row_count", len(rows)).
		Bool("cache_hit", cacheHit)
	if entry.Truncated {
		logEvent = logEvent.Bool("truncated", true)
	}
	if verdict.Risk > security.RiskNone {
		logEvent = logEvent.Str("risk", verdict.Risk.String())
	}
	logEvent.Msg("query executed")

	return &ExecQueryOutput{
		Columns:   entry.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: entry.Truncated,
		CacheHit:  cacheHit,
	}
}

// executeBackend leases a connection and runs the statement under its
// resolved deadline. A connection whose statement timed out is released
// flagged for a health probe rather than reused directly.
func (d *DorisMcp) executeBackend(ctx context.Context, stmt string, limit, level int, requested time.Duration) (*cache.Entry, error) {
	deadline := d.timeoutMgr.Resolve(stmt, requested)
	queryCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	pc, err := d.pool.Acquire(queryCtx)
	if err != nil {
		return nil, err
	}

	rows, err := pc.QueryContext(queryCtx, stmt)
	if err != nil {
		d.pool.Release(pc, queryCtx.Err() == nil)
		if queryCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("statement cancelled after %s: %w", deadline, context.DeadlineExceeded)
		}
		return nil, err
	}

	entry, err := collectEntry(rows, limit, level)
	if err != nil {
		d.pool.Release(pc, queryCtx.Err() == nil)
		if queryCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("statement cancelled after %s: %w", deadline, context.DeadlineExceeded)
		}
		return nil, err
	}
	d.pool.Release(pc, true)
	return entry, nil
}

// collectEntry drains up to limit rows, flagging truncation when more
// remain.
func collectEntry(rows *sql.Rows, limit, level int) (*cache.Entry, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0)
	truncated := false
	for rows.Next() {
		if len(out) >= limit {
			truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &cache.Entry{
		Columns:   columns,
		Rows:      out,
		Truncated: truncated,
		Level:     level,
		CreatedAt: time.Now(),
	}, nil
}

// convertValue converts a driver-returned value to a JSON-friendly Go type.
// The MySQL driver hands back []byte for most textual and decimal columns.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// qualifyRef fills missing identifier parts from the per-call catalog and
// database hints. Already-qualified references pass through untouched.
func qualifyRef(ref, catalogName, dbName string) string {
	switch strings.Count(ref, ".") {
	case 0:
		if catalogName != "" && dbName != "" {
			return catalogName + "." + dbName + "." + ref
		}
	case 1:
		if catalogName != "" {
			return catalogName + "." + ref
		}
	}
	return ref
}

// readOnlyStatement reports whether the statement is eligible for caching.
func readOnlyStatement(stmt string) bool {
	switch security.LeadingKeyword(stmt) {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH":
		return true
	}
	return false
}

// failQuery converts any pipeline error into a classified output and emits
// the invocation's single audit record.
func (d *DorisMcp) failQuery(rec audit.Record, err error) *ExecQueryOutput {
	qerr := classify(err, d.sanitizer.SanitizeErr(err))

	rec.Verdict = audit.VerdictFailed
	if blockedVerdict(qerr.Kind) {
		rec.Verdict = audit.VerdictBlocked
	}
	rec.Reason = qerr.Message
	var injection *security.InjectionError
	if errors.As(err, &injection) {
		rec.RiskScore = injection.Risk.Score()
	}
	d.appendAudit(rec)

	d.logger.Error().
		Err(err).
		Str("kind", string(qerr.Kind)).
		Msg("query rejected")

	return &ExecQueryOutput{
		ErrorKind: string(qerr.Kind),
		Error:     qerr.Message,
		Hint:      d.errPrompts.Match(qerr.Message),
	}
}

func (d *DorisMcp) appendAudit(rec audit.Record) {
	if d.auditSink != nil {
		d.auditSink.Append(rec)
	}
}

// truncateForLog trims a statement for log and audit fields without
// splitting a multibyte rune.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}
