package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/syncengine/internal/cli/output"
	"github.com/nimbusfs/syncengine/pkg/config"
	"github.com/nimbusfs/syncengine/pkg/engine"
	"github.com/nimbusfs/syncengine/pkg/model"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local file index and sync queue snapshot",
	Long: `Display a snapshot of every file known to the local store, one row per
file with its upload and download status (pending, queued, inProgress, done,
error). Table output is preceded by a summary of status counts.

Examples:
  # Show status as a table
  syncctl status

  # Output as JSON
  syncctl status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table|json|yaml)")
}

// fileStatusRow is one row of the status table.
type fileStatusRow struct {
	ID       string `json:"id" yaml:"id"`
	Path     string `json:"path" yaml:"path"`
	Size     int64  `json:"size" yaml:"size"`
	Upload   string `json:"uploadStatus" yaml:"uploadStatus"`
	Download string `json:"downloadStatus" yaml:"downloadStatus"`
	Error    string `json:"lastSyncError,omitempty" yaml:"lastSyncError,omitempty"`
}

type fileStatusTable []fileStatusRow

func (t fileStatusTable) Headers() []string {
	return []string{"FILE ID", "PATH", "SIZE", "UPLOAD", "DOWNLOAD", "ERROR"}
}

func (t fileStatusTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{r.ID, r.Path, fmt.Sprintf("%d", r.Size), r.Upload, r.Download, r.Error})
	}
	return rows
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	st, err := engine.OpenStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	files, err := st.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	rows := make(fileStatusTable, 0, len(files))
	uploadCounts := map[model.TransferStatus]int{}
	downloadCounts := map[model.TransferStatus]int{}
	errored := 0
	for _, f := range files {
		local, err := st.GetLocalState(ctx, f.ID)
		var upload, download model.TransferStatus
		var lastErr string
		if err == nil {
			upload, download, lastErr = local.UploadStatus, local.DownloadStatus, local.LastSyncError
		}
		uploadCounts[upload]++
		downloadCounts[download]++
		if upload == model.TransferStatusError || download == model.TransferStatusError {
			errored++
		}
		rows = append(rows, fileStatusRow{
			ID: string(f.ID), Path: f.Path, Size: f.Size,
			Upload: string(upload), Download: string(download), Error: lastErr,
		})
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, rows)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, rows)
	default:
		printStatusSummary(uploadCounts, downloadCounts, errored, len(files))
		if len(rows) == 0 {
			fmt.Println("No files tracked.")
			return nil
		}
		return output.PrintTable(os.Stdout, rows)
	}
}

func printStatusSummary(uploadCounts, downloadCounts map[model.TransferStatus]int, errored, total int) {
	fmt.Println()
	fmt.Println("Sync Status")
	fmt.Println("===========")
	fmt.Printf("  Total files:      %d\n", total)
	fmt.Printf("  Uploads done:     %d\n", uploadCounts[model.TransferStatusDone])
	fmt.Printf("  Uploads pending:  %d\n", uploadCounts[model.TransferStatusPending])
	fmt.Printf("  Downloads done:   %d\n", downloadCounts[model.TransferStatusDone])
	fmt.Printf("  Downloads pending:%d\n", downloadCounts[model.TransferStatusPending])
	fmt.Printf("  In error:         %d\n", errored)
	fmt.Println()
}
