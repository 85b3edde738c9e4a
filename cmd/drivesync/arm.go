package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newArmCmd() *cobra.Command {
	var (
		rootName string
		rootPath string
	)

	cmd := &cobra.Command{
		Use:   "arm <root-folder-id>",
		Short: "Arm a full sync of the given remote folder",
		Long: `Record the root folder selection and reset the sync state to a fresh
full pass. Any in-progress pass and the existing change cursor are
discarded; run 'drivesync run' afterwards to drain the new pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}

			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			rootID := args[0]
			if rootName == "" {
				rootName = rootID
			}

			if rootPath == "" {
				rootPath = rootName
			}

			if err := st.engine.ArmSync(cmd.Context(), userID, rootID, rootName, rootPath); err != nil {
				return err
			}

			fmt.Printf("Armed sync of %q for user %s\n", rootName, userID)

			return nil
		},
	}

	cmd.Flags().StringVar(&rootName, "name", "", "display name of the root folder")
	cmd.Flags().StringVar(&rootPath, "path", "", "display path of the root folder")

	return cmd
}
