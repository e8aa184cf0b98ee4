package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmelchers/arvon/pkg/client"
)

var leaseIssueTTL string

var leaseIssueCmd = &cobra.Command{
	Use:   "issue <role>",
	Short: "Issue a fresh credential under a role",
	Long: `Requests a new short-lived credential. The credential is printed
exactly once; it cannot be retrieved again afterwards.`,
	Example: `  arvon lease issue readonly --ttl 30m`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		result, correlation, err := cli.IssueLease(cmd.Context(), args[0], client.IssueLeaseOptions{
			TTL: leaseIssueTTL,
		})
		if err != nil {
			log.Error().Msgf("%s failed to issue lease (correlation ID: %s)", redCross, correlation)
			return err
		}

		log.Info().Msgf("%s lease %s issued, expires %s",
			greenCheck,
			color.New(color.Bold).Sprint(result.LeaseID),
			result.ExpiresAt.Format("2006-01-02 15:04:05"))

		// credentials go to stdout so they can be captured by scripts
		fmt.Printf("username: %s\npassword: %s\n", result.Credential.Username, result.Credential.Password)
		return nil
	},
}

func init() {
	leaseIssueCmd.Flags().StringVar(&leaseIssueTTL, "ttl", "", `Requested lifetime (e.g. "30m"); empty uses the role default`)
}
