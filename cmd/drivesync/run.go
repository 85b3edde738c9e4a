package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		budget int
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync batch (or the whole pass with --all)",
		Long: `Expand the next batch of pending folders into the mirror. With --all,
keep running batches until the pass completes, then reconcile orphans.
Safe to interrupt: progress persists per batch and the next run resumes
where this one stopped.`,
		Args: cobra.NoArgs,
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

			ctx := cmd.Context()

			if all {
				if err := st.engine.RunToCompletion(ctx, userID, budget, 0); err != nil {
					return err
				}

				fmt.Println("Full pass complete")

				return nil
			}

			result, err := st.engine.RunSyncBatch(ctx, userID, budget)
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Printf("Processed %d folders (%d items, %d subfolders found), %d pending\n",
				result.ProcessedFolders, result.UpdatedItems, result.FoundFolders, result.PendingFolders)
			if result.Done {
				fmt.Println("Full pass complete")
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 0, "folders to expand this batch (0 = config default)")
	cmd.Flags().BoolVar(&all, "all", false, "run batches until the pass completes")

	return cmd
}
