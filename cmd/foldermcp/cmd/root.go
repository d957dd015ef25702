// Package cmd provides the CLI commands for the foldermcp daemon.
package cmd

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/folder-mcp/foldermcp/pkg/version"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foldermcp",
		Short: "Local document-indexing daemon with MCP search",
		Long: `foldermcp watches folders, parses and chunks their documents, embeds
the chunks with a local model worker, and answers hybrid keyword and
semantic searches over a WebSocket control protocol and MCP.

Start the daemon with 'foldermcp daemon', then add folders from a
connected client.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("foldermcp version {{.Version}}\n")

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// isTTY reports whether w is an interactive terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
