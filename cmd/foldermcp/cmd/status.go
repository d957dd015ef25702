package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/daemon"
	"github.com/folder-mcp/foldermcp/internal/filestate"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// folderStatus is one folder's row in the status report.
type folderStatus struct {
	Path      string `json:"path"`
	Model     string `json:"model"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Failed    int    `json:"failed"`
	Indexed   bool   `json:"indexed"`
}

// statusReport is the full status output.
type statusReport struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid,omitempty"`
	WSPort    int            `json:"wsPort,omitempty"`
	HTTPPort  int            `json:"httpPort,omitempty"`
	Version   string         `json:"version,omitempty"`
	StartTime string         `json:"startTime,omitempty"`
	Folders   []folderStatus `json:"folders"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and folder index status",
		Long: `Report whether the daemon is running and, for each configured folder,
how many documents and chunks its index holds. Folder databases are
read directly, so status works with or without a running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	report := statusReport{Folders: []folderStatus{}}

	if info, err := daemon.ReadRegistry(config.DefaultDir()); err == nil && info.Alive() {
		report.Running = true
		report.PID = info.PID
		report.WSPort = info.WSPort
		report.HTTPPort = info.HTTPPort
		report.Version = info.Version
		report.StartTime = info.StartTime.Format("2006-01-02 15:04:05")
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	for _, fc := range cfg.Folders {
		report.Folders = append(report.Folders, collectFolderStatus(ctx, fc))
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderStatus(cmd, report)
	return nil
}

func collectFolderStatus(ctx context.Context, fc config.FolderConfig) folderStatus {
	fs := folderStatus{Path: fc.Path, Model: fc.Model}

	if _, err := os.Stat(store.DBPath(fc.Path)); err != nil {
		return fs
	}
	st, err := store.OpenReadOnly(fc.Path)
	if err != nil {
		return fs
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(ctx)
	if err != nil {
		return fs
	}
	fs.Indexed = true
	fs.Documents = stats.DocumentCount
	fs.Chunks = stats.ChunkCount
	fs.Failed = stats.States[filestate.StateFailed] + stats.States[filestate.StateCorrupted]
	return fs
}

func renderStatus(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	ok, bad := "ok", "--"
	if isTTY(out) {
		ok, bad = "✓", "✗"
	}

	if report.Running {
		fmt.Fprintf(out, "%s daemon running (pid %d, version %s, ws :%d, since %s)\n",
			ok, report.PID, report.Version, report.WSPort, report.StartTime)
	} else {
		fmt.Fprintf(out, "%s daemon not running\n", bad)
	}

	if len(report.Folders) == 0 {
		fmt.Fprintln(out, "no folders configured")
		return
	}
	for _, f := range report.Folders {
		if !f.Indexed {
			fmt.Fprintf(out, "  %s  model=%s  (not indexed yet)\n", f.Path, f.Model)
			continue
		}
		fmt.Fprintf(out, "  %s  model=%s  documents=%d  chunks=%d  failed=%d\n",
			f.Path, f.Model, f.Documents, f.Chunks, f.Failed)
	}
}
