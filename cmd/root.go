// Package cmd wires the CLI: the root command runs the MCP server over
// stdio; subcommands provide local dump inspection and environment checks.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zhubert/windbg-mcp/internal/cdb"
	"github.com/zhubert/windbg-mcp/internal/config"
	"github.com/zhubert/windbg-mcp/internal/logger"
	"github.com/zhubert/windbg-mcp/internal/mcp"
	"github.com/zhubert/windbg-mcp/internal/session"
	"github.com/zhubert/windbg-mcp/internal/tools"
)

var (
	cdbPath        string
	symbolPath     string
	commandTimeout int
	startupTimeout int
	verbose        bool
	logFile        string

	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "windbg-mcp",
	Short: "MCP server for analyzing Windows crash dumps with CDB",
	Long: `windbg-mcp exposes the Windows debugger (CDB) to MCP clients.
It manages long-lived debugger sessions against crash dump files and
remote targets, and serves analysis tools over stdio.`,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cdbPath, "cdb-path", "", "Path to cdb.exe (defaults to auto-discovery)")
	rootCmd.PersistentFlags().StringVar(&symbolPath, "symbol-path", "", "Symbol path passed to CDB as _NT_SYMBOL_PATH")
	rootCmd.PersistentFlags().IntVar(&commandTimeout, "timeout", 30, "Per-command timeout in seconds")
	rootCmd.PersistentFlags().IntVar(&startupTimeout, "init-timeout", 120, "Session startup timeout in seconds (symbol loading)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("windbg-mcp %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("windbg-mcp %s\n", version)
}

// resolveConfig layers explicit flags over environment configuration.
func resolveConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()

	if cmd.Flags().Changed("cdb-path") {
		cfg.CDBPath = cdbPath
	}
	if cmd.Flags().Changed("symbol-path") {
		cfg.SymbolPath = symbolPath
	}
	if cmd.Flags().Changed("timeout") {
		cfg.CommandTimeout = time.Duration(commandTimeout) * time.Second
	}
	if cmd.Flags().Changed("init-timeout") {
		cfg.StartupTimeout = time.Duration(startupTimeout) * time.Second
	}
	if verbose {
		cfg.Verbose = true
	}

	return cfg
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig(cmd)

	// Logs must stay off stdout, which carries the MCP stream.
	if logFile != "" {
		if err := logger.Init(logFile); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
	}
	defer logger.Close()
	logger.SetDebug(cfg.Verbose)

	logger.Info("windbg-mcp %s starting", version)

	reg := session.NewRegistry(cdb.Options{
		CDBPath:        cfg.CDBPath,
		SymbolPath:     cfg.SymbolPath,
		CommandTimeout: cfg.CommandTimeout,
		StartupTimeout: cfg.StartupTimeout,
		Verbose:        cfg.Verbose,
	})

	// Shut down every debugger process on interrupt so none outlive us.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received %v, closing sessions", sig)
		reg.CloseAll()
		os.Exit(0)
	}()
	defer reg.CloseAll()

	server := mcp.NewServer(os.Stdin, os.Stdout, tools.NewHandler(reg))
	return server.Run()
}
