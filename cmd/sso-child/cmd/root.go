package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sso-child",
	Short: "Child application signing users in through the mother identity provider",
	Long: `sso-child serves the inventory administration views of a child application.

Users sign in once at the mother application; this server runs the
authorization code flow with PKCE against it, keeps the session in encrypted
cookies and forwards API calls to the child backend with the user's token.

  sso-child serve --config /etc/sso-child/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}
