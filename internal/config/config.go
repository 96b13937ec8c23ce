// Package config resolves server settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/zhubert/windbg-mcp/internal/logger"
)

// Environment variables recognized by the server.
const (
	EnvCDBPath        = "CDB_PATH"
	EnvSymbolPath     = "_NT_SYMBOL_PATH"
	EnvCommandTimeout = "WINDBG_MCP_TIMEOUT"
	EnvStartupTimeout = "WINDBG_MCP_INIT_TIMEOUT"
	EnvVerbose        = "WINDBG_MCP_VERBOSE"
)

const (
	// DefaultCommandTimeout bounds each individual debugger command.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultStartupTimeout bounds process start plus initial symbol
	// loading, which can be slow on cold symbol caches.
	DefaultStartupTimeout = 120 * time.Second
)

// Config holds the resolved server configuration.
type Config struct {
	CDBPath        string
	SymbolPath     string
	CommandTimeout time.Duration
	StartupTimeout time.Duration
	Verbose        bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CommandTimeout: DefaultCommandTimeout,
		StartupTimeout: DefaultStartupTimeout,
	}
}

// FromEnv resolves configuration from environment variables on top of the
// defaults. Malformed values are logged and ignored.
func FromEnv() Config {
	cfg := Default()

	cfg.CDBPath = os.Getenv(EnvCDBPath)
	cfg.SymbolPath = os.Getenv(EnvSymbolPath)

	if v := os.Getenv(EnvCommandTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CommandTimeout = time.Duration(secs) * time.Second
		} else {
			logger.Warn("ignoring invalid %s value %q", EnvCommandTimeout, v)
		}
	}
	if v := os.Getenv(EnvStartupTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StartupTimeout = time.Duration(secs) * time.Second
		} else {
			logger.Warn("ignoring invalid %s value %q", EnvStartupTimeout, v)
		}
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		} else {
			logger.Warn("ignoring invalid %s value %q", EnvVerbose, v)
		}
	}

	return cfg
}
