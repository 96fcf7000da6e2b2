package dorismcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers exec_query and the metadata tools on the given
// MCP server. The transport layer is expected to attach a SecurityContext
// to the request context after token verification; calls without one run as
// the anonymous principal.
func RegisterMCPTools(mcpServer *server.MCPServer, d *DorisMcp) {
	execQueryTool := mcp.NewTool("exec_query",
		mcp.WithDescription("Execute a SQL statement against the Doris cluster. Table references use catalog.database.table naming. Returns bounded, masked results as JSON."),
		mcp.WithString("statement",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithString("catalog_name",
			mcp.Description("Default catalog for under-qualified table names"),
		),
		mcp.WithString("db_name",
			mcp.Description("Default database for under-qualified table names"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Maximum rows to return (capped by the server limit)"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Statement timeout in seconds (capped by the server limit)"),
		),
	)

	mcpServer.AddTool(execQueryTool, d.loggedToolHandler("exec_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statement, err := req.RequireString("statement")
		if err != nil {
			return mcp.NewToolResultError("statement parameter is required"), nil
		}
		input := ExecQueryInput{
			Statement:   statement,
			CatalogName: req.GetString("catalog_name", ""),
			DBName:      req.GetString("db_name", ""),
			MaxRows:     req.GetInt("max_rows", 0),
			Timeout:     time.Duration(req.GetInt("timeout_seconds", 0)) * time.Second,
		}
		output := d.ExecQuery(ctx, callerContext(ctx), input)
		if output.Error != "" {
			return execErrorResult(output), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal query result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	catalogListTool := mcp.NewTool("get_catalog_list",
		mcp.WithDescription("List the catalogs visible to the Doris cluster."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(catalogListTool, d.loggedToolHandler("get_catalog_list", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := d.GetCatalogList(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	dbListTool := mcp.NewTool("get_db_list",
		mcp.WithDescription("List the databases of a catalog."),
		mcp.WithString("catalog_name",
			mcp.Description("The catalog to list (defaults to the current catalog)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(dbListTool, d.loggedToolHandler("get_db_list", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := d.GetDbList(ctx, DBListInput{
			CatalogName: req.GetString("catalog_name", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	tableListTool := mcp.NewTool("get_db_table_list",
		mcp.WithDescription("List the tables of a database."),
		mcp.WithString("db_name",
			mcp.Required(),
			mcp.Description("The database to list"),
		),
		mcp.WithString("catalog_name",
			mcp.Description("The catalog holding the database"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(tableListTool, d.loggedToolHandler("get_db_table_list", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbName, err := req.RequireString("db_name")
		if err != nil {
			return mcp.NewToolResultError("db_name parameter is required"), nil
		}
		output, err := d.GetDbTableList(ctx, TableListInput{
			CatalogName: req.GetString("catalog_name", ""),
			DBName:      dbName,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))

	tableSchemaTool := mcp.NewTool("get_table_schema",
		mcp.WithDescription("Describe the columns of a table."),
		mcp.WithString("db_name",
			mcp.Required(),
			mcp.Description("The database holding the table"),
		),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to describe"),
		),
		mcp.WithString("catalog_name",
			mcp.Description("The catalog holding the database"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(tableSchemaTool, d.loggedToolHandler("get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbName, err := req.RequireString("db_name")
		if err != nil {
			return mcp.NewToolResultError("db_name parameter is required"), nil
		}
		tableName, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultError("table_name parameter is required"), nil
		}
		output, err := d.GetTableSchema(ctx, TableSchemaInput{
			CatalogName: req.GetString("catalog_name", ""),
			DBName:      dbName,
			TableName:   tableName,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalToolResult(output)
	}))
}

// callerContext returns the SecurityContext attached by the transport, or
// the anonymous principal when the transport never authenticated the call.
func callerContext(ctx context.Context) SecurityContext {
	if sctx, ok := SecurityFromContext(ctx); ok {
		return sctx
	}
	return AnonymousContext(uuid.NewString())
}

// execErrorResult packages a failed execution as a tool error carrying the
// classified kind and any remediation hint alongside the message.
func execErrorResult(output *ExecQueryOutput) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return mcp.NewToolResultError(output.Error)
	}
	return mcp.NewToolResultError(string(jsonBytes))
}

func marshalToolResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (d *DorisMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		d.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
