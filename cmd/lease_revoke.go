package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var leaseRevokeCmd = &cobra.Command{
	Use:   "revoke <lease-id>",
	Short: "Revoke a lease and destroy its credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		correlation, err := cli.RevokeLease(cmd.Context(), args[0])
		if err != nil {
			log.Error().Msgf("%s failed to revoke lease (correlation ID: %s)", redCross, correlation)
			return err
		}

		log.Info().Msgf("%s lease revoked, credential destroyed", greenCheck)
		return nil
	},
}
