package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/zhubert/windbg-mcp/internal/dumps"
)

var recursive bool

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	sizeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

var dumpsCmd = &cobra.Command{
	Use:   "dumps [directory]",
	Short: "List crash dump files in a directory",
	Long: `Lists .dmp files in the given directory, largest first.
Without an argument the well-known system dump directories are probed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDumps,
}

func init() {
	dumpsCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Search subdirectories recursively")
	rootCmd.AddCommand(dumpsCmd)
}

func runDumps(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	} else {
		var err error
		dir, err = dumps.DefaultDir()
		if err != nil {
			return err
		}
	}

	files, err := dumps.Find(dir, recursive)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Dump files in %s", dir)))

	if len(files) == 0 {
		fmt.Fprintln(out, emptyStyle.Render("No dump files found."))
		return nil
	}

	for i, f := range files {
		sizeMB := float64(f.SizeBytes) / 1024.0 / 1024.0
		fmt.Fprintf(out, "%2d. %s %s\n",
			i+1,
			pathStyle.Render(f.Path),
			sizeStyle.Render(fmt.Sprintf("(%.2f MB)", sizeMB)))
	}
	return nil
}
