package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var leaseRenewTTL string

var leaseRenewCmd = &cobra.Command{
	Use:     "renew <lease-id>",
	Short:   "Extend a lease before it expires",
	Example: `  arvon lease renew 6b1f... --ttl 1h`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		result, correlation, err := cli.RenewLease(cmd.Context(), args[0], leaseRenewTTL)
		if err != nil {
			log.Error().Msgf("%s failed to renew lease (correlation ID: %s)", redCross, correlation)
			return err
		}

		log.Info().Msgf("%s lease renewed, now expires %s (renewal #%d)",
			greenCheck, result.ExpiresAt.Format("2006-01-02 15:04:05"), result.Renewals)
		return nil
	},
}

func init() {
	leaseRenewCmd.Flags().StringVar(&leaseRenewTTL, "ttl", "", `Requested extension (e.g. "1h"); empty uses the role default`)
}
