package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trafficwatch/internal/environ"
	"trafficwatch/internal/services"
)

var (
	tokenName   string
	tokenExpiry time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token",
	Long: `Mints a bearer token signed with the same secret the server uses
(--secret, or the generated key file in the home directory).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := services.NewAuthService(authSecret, tokenExpiry)
		if err != nil {
			return err
		}
		token, expires, err := auth.GenerateToken(tokenName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "dashboard", "Client name embedded in the token")
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "Token lifetime (default 90 days)")
	tokenCmd.Flags().StringVar(&authSecret, "secret",
		environ.GetString("AUTH_SECRET", ""),
		"Token signing secret",
	)
}
