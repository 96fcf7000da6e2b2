package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dorismcp "github.com/zhenghao-lu/doris-mcp"
)

// validServerConfig returns a minimal valid ServerConfig for testing.
func validServerConfig() dorismcp.ServerConfig {
	cfg := dorismcp.ServerConfig{
		Config: dorismcp.DefaultConfig(),
		Server: dorismcp.ServerSettings{
			Transport: "http",
			Port:      8080,
		},
		Connection: dorismcp.ConnectionConfig{
			Host:     "localhost",
			Port:     9030,
			User:     "root",
			Database: "testdb",
		},
	}
	return cfg
}

func writeConfigFile(t *testing.T, dir string, config dorismcp.ServerConfig) string {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// Note: Tests using t.Setenv() cannot use t.Parallel() in Go.

func TestLoadConfigValid(t *testing.T) {
	dir := t.TempDir()
	cfg := validServerConfig()
	path := writeConfigFile(t, dir, cfg)

	t.Setenv("DORIS_MCP_CONFIG_PATH", path)

	loaded, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Connection.Host != "localhost" || loaded.Connection.Port != 9030 {
		t.Errorf("connection = %+v", loaded.Connection)
	}
	if loaded.Server.Transport != "http" || loaded.Server.Port != 8080 {
		t.Errorf("server = %+v", loaded.Server)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("DORIS_MCP_CONFIG_PATH", "/nonexistent/config.json")
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DORIS_MCP_CONFIG_PATH", path)
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestBuildDSN(t *testing.T) {
	t.Parallel()
	conn := dorismcp.ConnectionConfig{Host: "fe1.prod", Port: 9030, Database: "sales"}

	if got := buildDSN(conn, "reader", "s3cret"); got != "reader:s3cret@tcp(fe1.prod:9030)/sales" {
		t.Errorf("dsn = %q", got)
	}
	if got := buildDSN(conn, "reader", ""); got != "reader@tcp(fe1.prod:9030)/sales" {
		t.Errorf("dsn without password = %q", got)
	}
	if got := buildDSN(dorismcp.ConnectionConfig{}, "root", ""); got != "root@tcp(localhost:9030)/" {
		t.Errorf("dsn with defaults = %q", got)
	}
}

func TestSetupLoggerStdioForcesStderr(t *testing.T) {
	t.Parallel()
	// stdout logging would corrupt the stdio MCP framing; the logger must
	// fall back to stderr without panicking.
	logger := setupLogger(dorismcp.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, true)
	logger.Debug().Msg("probe")
}

func TestSetupLoggerLevels(t *testing.T) {
	t.Parallel()
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		logger := setupLogger(dorismcp.LoggingConfig{Level: level, Format: "json", Output: "stderr"}, false)
		_ = logger
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = "topsecret"
	cfg.Security.SensitiveTables = map[string]string{"salary": "secret"}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"sensitive_tables"`) {
		t.Errorf("missing sensitive_tables key: %s", data)
	}

	var back dorismcp.ServerConfig
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Security.SensitiveTables["salary"] != "secret" {
		t.Errorf("round trip lost sensitive tables: %+v", back.Security.SensitiveTables)
	}
	if !back.Auth.Enabled || back.Auth.Secret != "topsecret" {
		t.Errorf("round trip lost auth config: %+v", back.Auth)
	}
}
