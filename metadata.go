package dorismcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zhenghao-lu/doris-mcp/internal/catalog"
)

// Metadata tools issue fixed SHOW/DESCRIBE statements, so they bypass the
// screening pipeline but still go through admission and the pool, with
// their own configurable timeout.

var validIdent = regexp.MustCompile(`^[A-Za-z_][\w$]*$`)

// quoteIdent validates and backtick-quotes an identifier destined for a
// SHOW/DESCRIBE statement. Identifiers cannot be bound as parameters, so
// anything outside the safe character set is rejected outright.
func quoteIdent(name string) (string, error) {
	if !validIdent.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

// GetCatalogList returns the catalogs visible to the cluster.
func (d *DorisMcp) GetCatalogList(ctx context.Context) (*CatalogListOutput, error) {
	rows, columns, err := d.runMetadata(ctx, "get_catalog_list", "SHOW CATALOGS")
	if err != nil {
		return nil, err
	}
	return &CatalogListOutput{Catalogs: parseCatalogEntries(rows, columns)}, nil
}

func parseCatalogEntries(rows [][]interface{}, columns []string) []CatalogEntry {
	nameIdx, typeIdx := columnIndex(columns, "CatalogName"), columnIndex(columns, "Type")
	catalogs := make([]CatalogEntry, 0, len(rows))
	for _, row := range rows {
		entry := CatalogEntry{}
		if nameIdx >= 0 {
			entry.Name, _ = row[nameIdx].(string)
		}
		if typeIdx >= 0 {
			entry.Type = strings.ToLower(fmt.Sprintf("%v", row[typeIdx]))
		}
		if entry.Name != "" {
			catalogs = append(catalogs, entry)
		}
	}
	return catalogs
}

// GetDbList returns the databases of a catalog (or the current catalog when
// none is given).
func (d *DorisMcp) GetDbList(ctx context.Context, input DBListInput) (*DBListOutput, error) {
	stmt := "SHOW DATABASES"
	if input.CatalogName != "" {
		q, err := quoteIdent(input.CatalogName)
		if err != nil {
			return nil, err
		}
		stmt += " FROM " + q
	}

	rows, _, err := d.runMetadata(ctx, "get_db_list", stmt)
	if err != nil {
		return nil, err
	}
	return &DBListOutput{Databases: firstColumn(rows)}, nil
}

// GetDbTableList returns the tables of a database.
func (d *DorisMcp) GetDbTableList(ctx context.Context, input TableListInput) (*TableListOutput, error) {
	if input.DBName == "" {
		return nil, fmt.Errorf("db_name is required")
	}
	db, err := quoteIdent(input.DBName)
	if err != nil {
		return nil, err
	}
	target := db
	if input.CatalogName != "" {
		cat, err := quoteIdent(input.CatalogName)
		if err != nil {
			return nil, err
		}
		target = cat + "." + db
	}

	rows, _, err := d.runMetadata(ctx, "get_db_table_list", "SHOW TABLES FROM "+target)
	if err != nil {
		return nil, err
	}
	return &TableListOutput{Tables: firstColumn(rows)}, nil
}

// GetTableSchema describes a table's columns.
func (d *DorisMcp) GetTableSchema(ctx context.Context, input TableSchemaInput) (*TableSchemaOutput, error) {
	if input.DBName == "" || input.TableName == "" {
		return nil, fmt.Errorf("db_name and table_name are required")
	}
	db, err := quoteIdent(input.DBName)
	if err != nil {
		return nil, err
	}
	table, err := quoteIdent(input.TableName)
	if err != nil {
		return nil, err
	}
	target := db + "." + table
	if input.CatalogName != "" {
		cat, err := quoteIdent(input.CatalogName)
		if err != nil {
			return nil, err
		}
		target = cat + "." + target
	}

	rows, columns, err := d.runMetadata(ctx, "get_table_schema", "DESCRIBE "+target)
	if err != nil {
		return nil, err
	}

	fieldIdx := columnIndex(columns, "Field")
	typeIdx := columnIndex(columns, "Type")
	nullIdx := columnIndex(columns, "Null")
	keyIdx := columnIndex(columns, "Key")
	defIdx := columnIndex(columns, "Default")
	extraIdx := columnIndex(columns, "Extra")

	cols := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		info := ColumnInfo{}
		if fieldIdx >= 0 {
			info.Name, _ = row[fieldIdx].(string)
		}
		if typeIdx >= 0 {
			info.Type, _ = row[typeIdx].(string)
		}
		if nullIdx >= 0 {
			null, _ := row[nullIdx].(string)
			info.Nullable = strings.EqualFold(null, "YES")
		}
		if keyIdx >= 0 {
			info.Key, _ = row[keyIdx].(string)
		}
		if defIdx >= 0 && row[defIdx] != nil {
			info.Default = fmt.Sprintf("%v", row[defIdx])
		}
		if extraIdx >= 0 {
			info.Extra, _ = row[extraIdx].(string)
		}
		cols = append(cols, info)
	}

	return &TableSchemaOutput{
		Catalog:  input.CatalogName,
		Database: input.DBName,
		Table:    input.TableName,
		Columns:  cols,
	}, nil
}

// runMetadata executes a fixed metadata statement under bounded admission
// and the metadata timeout. Returns positional rows plus column names.
func (d *DorisMcp) runMetadata(ctx context.Context, action, stmt string) ([][]interface{}, []string, error) {
	select {
	case d.semaphore <- struct{}{}:
	default:
		select {
		case d.semaphore <- struct{}{}:
		case <-time.After(admissionWait):
			return nil, nil, fmt.Errorf("%s: all %d query slots are busy", action, cap(d.semaphore))
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%s: cancelled while waiting for a query slot: %w", action, ctx.Err())
		}
	}
	defer func() { <-d.semaphore }()

	return d.queryMetadata(ctx, action, stmt)
}

// queryMetadata runs a metadata statement straight against the pool, without
// touching the admission semaphore. Callers already holding a slot (the
// catalog refresh inside ExecQuery) must use this path; re-entering
// admission from inside a held slot deadlocks at max_concurrent=1.
func (d *DorisMcp) queryMetadata(ctx context.Context, action, stmt string) ([][]interface{}, []string, error) {
	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(d.config.Query.MetadataTimeoutSeconds)*time.Second)
	defer cancel()

	pc, err := d.pool.Acquire(queryCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to acquire connection: %w", action, err)
	}

	rows, err := pc.QueryContext(queryCtx, stmt)
	if err != nil {
		d.pool.Release(pc, queryCtx.Err() == nil)
		return nil, nil, fmt.Errorf("%s: %s", action, d.sanitizer.SanitizeErr(err))
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		d.pool.Release(pc, queryCtx.Err() == nil)
		return nil, nil, fmt.Errorf("%s: %s", action, d.sanitizer.SanitizeErr(err))
	}

	var out [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			rows.Close()
			d.pool.Release(pc, queryCtx.Err() == nil)
			return nil, nil, fmt.Errorf("%s: scan failed: %w", action, err)
		}
		converted := make([]interface{}, len(values))
		for i, v := range values {
			converted[i] = convertValue(v)
		}
		out = append(out, converted)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		d.pool.Release(pc, queryCtx.Err() == nil)
		return nil, nil, fmt.Errorf("%s: %s", action, d.sanitizer.SanitizeErr(err))
	}
	rows.Close()
	d.pool.Release(pc, true)

	d.logger.Info().
		Str("action", action).
		Dur("duration", time.Since(start)).
		Int("row_count", len(out)).
		Msg("metadata statement executed")

	return out, columns, nil
}

// fetchCatalogs is the production catalog lister behind the resolver: a
// SHOW CATALOGS round trip mapped to handles. The resolver invokes it from
// inside ExecQuery while an admission slot is held, so it goes straight to
// the pool rather than through runMetadata.
func (d *DorisMcp) fetchCatalogs(ctx context.Context) ([]catalog.Handle, error) {
	rows, columns, err := d.queryMetadata(ctx, "catalog_refresh", "SHOW CATALOGS")
	if err != nil {
		return nil, err
	}
	entries := parseCatalogEntries(rows, columns)
	handles := make([]catalog.Handle, 0, len(entries))
	for _, c := range entries {
		typ := catalog.TypeExternal
		if strings.EqualFold(c.Type, "internal") {
			typ = catalog.TypeInternal
		}
		handles = append(handles, catalog.Handle{Name: c.Name, Type: typ, Backend: c.Name})
	}
	return handles, nil
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func firstColumn(rows [][]interface{}) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if s, ok := row[0].(string); ok {
			out = append(out, s)
		}
	}
	return out
}
