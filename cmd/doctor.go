package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/zhubert/windbg-mcp/internal/cdb"
	"github.com/zhubert/windbg-mcp/internal/config"
	"github.com/zhubert/windbg-mcp/internal/dumps"
)

var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("76")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the debugging environment",
	Long:  `Verifies that CDB can be located and reports symbol and dump directory configuration.`,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg := resolveConfig(cmd)
	out := cmd.OutOrStdout()

	ok := true

	exe, err := cdb.FindExecutable(cfg.CDBPath)
	if err != nil {
		fmt.Fprintf(out, "%s cdb.exe not found (install Debugging Tools for Windows or set %s)\n",
			failStyle.Render("✗"), config.EnvCDBPath)
		ok = false
	} else {
		fmt.Fprintf(out, "%s cdb.exe: %s\n", okStyle.Render("✓"), exe)
	}

	if cfg.SymbolPath != "" {
		fmt.Fprintf(out, "%s symbol path: %s\n", okStyle.Render("✓"), cfg.SymbolPath)
	} else {
		fmt.Fprintf(out, "%s %s not set, CDB will use its defaults\n",
			warnStyle.Render("!"), config.EnvSymbolPath)
	}

	if dir, err := dumps.DefaultDir(); err == nil {
		files, ferr := dumps.Find(dir, false)
		if ferr == nil {
			fmt.Fprintf(out, "%s dump directory: %s (%d dump files)\n",
				okStyle.Render("✓"), dir, len(files))
		} else {
			fmt.Fprintf(out, "%s dump directory %s is not readable: %v\n",
				warnStyle.Render("!"), dir, ferr)
		}
	} else {
		fmt.Fprintf(out, "%s no default dump directory found\n", warnStyle.Render("!"))
	}

	fmt.Fprintf(out, "\ntimeouts: command %s, startup %s\n", cfg.CommandTimeout, cfg.StartupTimeout)

	if !ok {
		return fmt.Errorf("environment check failed")
	}
	return nil
}
