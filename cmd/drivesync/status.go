package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapshelf/drivesync/internal/mirror"
)

// statusReport is the JSON shape of 'drivesync status'.
type statusReport struct {
	UserID         string `json:"user_id"`
	RootFolder     string `json:"root_folder,omitempty"`
	RootFolderID   string `json:"root_folder_id,omitempty"`
	Status         string `json:"status,omitempty"`
	PendingFolders int    `json:"pending_folders"`
	LastError      string `json:"last_error,omitempty"`
	LastFullScanAt string `json:"last_full_scan_at,omitempty"`
	LastChangesAt  string `json:"last_changes_at,omitempty"`
	Folders        int    `json:"folders"`
	ActiveItems    int    `json:"active_items"`
	MissingItems   int    `json:"missing_items"`
	DeletedItems   int    `json:"deleted_items"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and mirror counts for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}

			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			diag, err := st.engine.Diagnose(cmd.Context(), userID)
			if err != nil {
				return err
			}

			report := statusReport{
				UserID:       userID,
				Folders:      diag.Folders,
				ActiveItems:  diag.ItemCounts[mirror.ItemActive],
				MissingItems: diag.ItemCounts[mirror.ItemMissing],
				DeletedItems: diag.ItemCounts[mirror.ItemDeleted],
			}

			if diag.Settings != nil {
				report.RootFolder = diag.Settings.RootFolderPath
				report.RootFolderID = diag.Settings.RootFolderID
			}

			if diag.State != nil {
				report.Status = string(diag.State.Status)
				report.PendingFolders = len(diag.State.PendingFolders)
				report.LastError = diag.State.LastError
				report.LastFullScanAt = formatTime(diag.State.LastFullScanAt)
				report.LastChangesAt = formatTime(diag.State.LastChangesAt)
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			printStatus(&report)

			return nil
		},
	}
}

func printStatus(r *statusReport) {
	if r.Status == "" {
		fmt.Printf("User %s: sync not armed\n", r.UserID)
		return
	}

	fmt.Printf("User:            %s\n", r.UserID)
	fmt.Printf("Root folder:     %s (%s)\n", r.RootFolder, r.RootFolderID)
	fmt.Printf("Status:          %s\n", r.Status)
	fmt.Printf("Pending folders: %d\n", r.PendingFolders)
	fmt.Printf("Mirror:          %d folders, %d active / %d missing / %d deleted items\n",
		r.Folders, r.ActiveItems, r.MissingItems, r.DeletedItems)

	if r.LastFullScanAt != "" {
		fmt.Printf("Last full scan:  %s\n", r.LastFullScanAt)
	}

	if r.LastChangesAt != "" {
		fmt.Printf("Last delta pull: %s\n", r.LastChangesAt)
	}

	if r.LastError != "" {
		fmt.Printf("Last error:      %s\n", r.LastError)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Local().Format(time.RFC3339)
}
