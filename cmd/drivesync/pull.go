package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Apply remote changes since the last cursor",
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

			result, err := st.engine.PullChanges(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Printf("Applied %d changes\n", result.Processed)
			if result.Reset {
				fmt.Println("Warning: change cursor was rejected and re-initialized; " +
					"changes in between were lost. Consider re-arming a full sync.")
			}

			return nil
		},
	}
}

func newPeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Count pending remote changes without applying them",
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

			n, err := st.engine.PeekChanges(cmd.Context(), userID)
			if err != nil {
				return err
			}

			fmt.Printf("%d pending changes\n", n)

			return nil
		},
	}
}
