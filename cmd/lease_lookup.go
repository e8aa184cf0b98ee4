package cmd

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var leaseLookupCmd = &cobra.Command{
	Use:   "lookup <lease-id>",
	Short: "Show lease metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		lease, _, err := cli.LookupLease(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		log.Info().Msgf("lease:    %s", lease.LeaseID)
		log.Info().Msgf("role:     %s", lease.Role)
		log.Info().Msgf("state:    %s", lease.State)
		log.Info().Msgf("issued:   %s", lease.IssuedAt.Format(time.RFC3339))
		log.Info().Msgf("expires:  %s (in %s)", lease.ExpiresAt.Format(time.RFC3339),
			time.Until(lease.ExpiresAt).Round(time.Second))
		log.Info().Msgf("renewals: %d", lease.Renewals)
		return nil
	},
}
