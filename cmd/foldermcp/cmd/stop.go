package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/daemon"
)

// stopPollInterval is how often we re-check the process while waiting
// for it to exit.
const stopPollInterval = 100 * time.Millisecond

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  `Send SIGTERM to the registered daemon and wait for it to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "How long to wait for the daemon to exit")

	return cmd
}

func runStop(cmd *cobra.Command, timeout time.Duration) error {
	info, err := daemon.ReadRegistry(config.DefaultDir())
	if err != nil || !info.Alive() {
		fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
		return nil
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("failed to find daemon process %d: %w", info.PID, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon %d: %w", info.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !info.Alive() {
			fmt.Fprintf(cmd.OutOrStdout(), "daemon stopped (pid %d)\n", info.PID)
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return fmt.Errorf("daemon %d did not exit within %s", info.PID, timeout)
}
