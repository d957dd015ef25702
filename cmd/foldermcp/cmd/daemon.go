package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/daemon"
	"github.com/folder-mcp/foldermcp/internal/logging"
)

func newDaemonCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the indexing daemon in the foreground",
		Long: `Run the daemon: restore configured folders, watch them for changes,
index new and modified documents, and serve the WebSocket control
protocol and MCP search surface.

Only one daemon runs per user; a second start exits with an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.folder-mcp/config.yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	if debug {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: configPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "foldermcp daemon starting (pid %d, ws :%d, http :%d)\n",
		os.Getpid(), cfg.Daemon.WSPort, cfg.Daemon.HTTPPort)

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "daemon exited: %v\n", err)
		return err
	}
	return nil
}
