package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	dorismcp "github.com/zhenghao-lu/doris-mcp"
	"github.com/zhenghao-lu/doris-mcp/internal/auth"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

func runServe() error {
	ctx := context.Background()

	// .env values become visible to FromEnv and the DSN lookup below.
	_ = godotenv.Load()

	// 1. Load ServerConfig and overlay environment variables
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	serverConfig.Config = dorismcp.FromEnv(serverConfig.Config, os.Getenv)

	transport := serverConfig.Server.Transport
	if transport == "" {
		transport = "http"
	}
	if transport != "http" && transport != "stdio" {
		return fmt.Errorf("unknown server.transport %q, want http or stdio", transport)
	}
	if transport == "http" && serverConfig.Server.Port <= 0 {
		panic("doris-mcp: server.port must be > 0")
	}

	// 2. Setup logger. The stdio transport owns stdout, so logs are forced
	// to stderr or a file there.
	logger := setupLogger(serverConfig.Logging, transport == "stdio")

	// 3. Resolve the FE DSN
	dsn := os.Getenv("DORIS_MCP_DSN")
	if dsn == "" {
		username := serverConfig.Connection.User
		if username == "" {
			username = promptInput("Username: ")
		}
		password := promptPassword("Password: ")
		dsn = buildDSN(serverConfig.Connection, username, password)
	}

	// 4. Create DorisMcp instance
	dorisMcp, err := dorismcp.New(ctx, dsn, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create DorisMcp: %w", err)
	}
	defer dorisMcp.Close(ctx)

	// 5. Test backend connection
	logger.Info().Msg("testing backend connection")
	if err := dorisMcp.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("backend connection test failed")
		return fmt.Errorf("backend connection test failed: %w", err)
	}
	logger.Info().Msg("backend connection test successful")

	// 6. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		clientName := req.Params.ClientInfo.Name
		clientVersion := req.Params.ClientInfo.Version
		logger.Info().
			Str("client_name", clientName).
			Str("client_version", clientVersion).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("doris-mcp", version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	dorismcp.RegisterMCPTools(mcpServer, dorisMcp)

	if transport == "stdio" {
		logger.Info().Msg("starting doris-mcp server on stdio")
		return server.ServeStdio(mcpServer)
	}

	authn := auth.New(auth.Config{
		Enabled: serverConfig.Auth.Enabled,
		Secret:  []byte(serverConfig.Auth.Secret),
		Issuer:  serverConfig.Auth.Issuer,
	})

	// 7. Start HTTP server with optional health check
	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not FE connectivity)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("doris-mcp: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Create StreamableHTTPServer with custom http.Server
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
		server.WithHTTPContextFunc(securityContextFunc(authn, serverConfig.Auth.Enabled, logger)),
	)

	// Manually register the MCP handler; Start() does NOT register
	// when a custom *http.Server is provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting doris-mcp server")
	return streamableServer.Start(addr)
}

// securityContextFunc attaches the verified caller identity to the request
// context. A missing or bad token falls through without a security context,
// which the tool layer treats as an anonymous public-level caller.
func securityContextFunc(authn *auth.Authenticator, enabled bool, logger zerolog.Logger) server.HTTPContextFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		if !enabled {
			return ctx
		}
		ident, err := authn.Verify(r.Header.Get("Authorization"))
		if err != nil {
			logger.Warn().Err(err).Msg("bearer token rejected, downgrading to anonymous")
			return ctx
		}
		return dorismcp.ContextWithSecurity(ctx, dorismcp.SecurityContext{
			PrincipalID:   ident.UserID,
			AuthMethod:    "token",
			Level:         dorismcp.SecurityLevel(ident.Level),
			AllowedTables: ident.AllowedTables,
			SessionID:     ident.SessionID,
		})
	}
}

func loadServerConfig() (*dorismcp.ServerConfig, error) {
	configPath := os.Getenv("DORIS_MCP_CONFIG_PATH")
	if configPath == "" {
		configPath = ".dorismcp/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config dorismcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// buildDSN builds a go-sql-driver DSN for the Doris FE.
func buildDSN(conn dorismcp.ConnectionConfig, username, password string) string {
	host := conn.Host
	if host == "" {
		host = "localhost"
	}
	port := conn.Port
	if port <= 0 {
		port = 9030
	}
	var b strings.Builder
	b.WriteString(username)
	if password != "" {
		b.WriteString(":")
		b.WriteString(password)
	}
	fmt.Fprintf(&b, "@tcp(%s:%d)/%s", host, port, conn.Database)
	return b.String()
}

func setupLogger(config dorismcp.LoggingConfig, stdioTransport bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	switch {
	case config.Output == "stdout" && !stdioTransport:
		output = os.Stdout
	case config.Output != "" && config.Output != "stdout" && config.Output != "stderr":
		output = &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
