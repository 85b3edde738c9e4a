package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snapshelf/drivesync/internal/vault"
)

func newConnectCmd() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		scope        string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Store an authorized token pair for a user",
		Long: `Encrypt and store the result of an OAuth authorization-code exchange.
The exchange itself happens elsewhere (the web app's consent landing
page); this command only seals its output into the credential vault.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := requireUser()
			if err != nil {
				return err
			}

			if refreshToken == "" {
				return fmt.Errorf("--refresh-token is required")
			}

			st, err := buildStack()
			if err != nil {
				return err
			}
			defer st.Close()

			if scope == "" {
				scope = strings.Join(resolvedCfg.Provider.Scopes, " ")
			}

			err = st.vault.Connect(cmd.Context(), userID, vault.Credential{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				Scope:        scope,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Credential stored for user %s\n", userID)

			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token from the code exchange")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token from the code exchange")
	cmd.Flags().StringVar(&scope, "scope", "", "granted scopes (defaults to configured scopes)")

	return cmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Remove a user's stored credential",
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

			if err := st.vault.Disconnect(cmd.Context(), userID); err != nil {
				return err
			}

			fmt.Printf("Credential removed for user %s\n", userID)

			return nil
		},
	}
}
