// Package dorismcp provides bounded, audited, access-controlled SQL access
// to an Apache Doris cluster for AI agents through the Model Context
// Protocol (MCP).
//
// It exposes five tools (exec_query plus the metadata tools
// get_catalog_list, get_db_list, get_db_table_list, and get_table_schema)
// behind a full execution pipeline: admission control, a lexical security
// screen (leading-keyword deny list, injection heuristics with risk tiers,
// complexity scoring, table-level authorization), three-part catalog
// resolution, a TTL/LRU result cache with single-flight deduplication,
// pooled backend execution, row truncation, column masking by security
// level, and per-statement audit records.
//
// The Doris frontend speaks the MySQL wire protocol; the engine connects
// through go-sql-driver/mysql and owns connection lifecycle in its own
// pool.
//
// # Library Usage
//
//	d, err := dorismcp.New(ctx, dsn, dorismcp.DefaultConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer d.Close(ctx)
//
//	// Use directly
//	sctx := dorismcp.AnonymousContext(sessionID)
//	output := d.ExecQuery(ctx, sctx, dorismcp.ExecQueryInput{
//		Statement: "SELECT id, name FROM internal.sales.orders LIMIT 10",
//	})
//
//	// Or register as MCP tools
//	dorismcp.RegisterMCPTools(mcpServer, d)
//
// # Security model
//
// Every statement runs under a SecurityContext carrying the caller's
// principal, security level (public < internal < confidential < secret),
// and table allowlist. Sensitive columns are masked unless the caller's
// level clears the rule; sensitive tables reject callers below their
// classification. Cached results embed the level they were produced under
// and are never served across masking profiles.
package dorismcp
