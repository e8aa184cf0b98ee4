package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var loginVerifier string

var loginCmd = &cobra.Command{
	Use:   "login <assertion>",
	Short: "Exchange an identity assertion for a session token",
	Long: `The login command submits an external identity assertion (for example
an OIDC ID token) to the broker and prints the resulting session token.
Pass '-' to read the assertion from stdin.`,
	Example: `  arvon login "$(cat id_token.jwt)" --server http://localhost:8080
  cat id_token.jwt | arvon login -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assertion := args[0]
		if assertion == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading assertion from stdin: %w", err)
			}
			assertion = strings.TrimSpace(string(data))
		}
		if assertion == "" {
			return fmt.Errorf("assertion cannot be empty")
		}

		cli, err := getClient()
		if err != nil {
			return err
		}

		result, correlation, err := cli.Login(cmd.Context(), assertion, loginVerifier)
		if err != nil {
			log.Error().Msgf("%s login failed (correlation ID: %s)", redCross, correlation)
			return err
		}

		log.Info().Msgf("%s session issued, valid until %s", greenCheck, result.ExpiresAt.Format("15:04:05"))
		log.Info().Msgf("policies: %s", strings.Join(result.Policies, ", "))

		// the token goes to stdout so it can be captured by scripts
		fmt.Println(result.Token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginVerifier, "verifier", "", "Verifier to validate against (skips auto-discovery)")
}
