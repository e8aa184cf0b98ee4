package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Inspect and change the broker seal state",
}

var sealStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the broker is sealed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		sealed, _, err := cli.SealStatus(cmd.Context())
		if err != nil {
			return err
		}
		if sealed {
			log.Warn().Msgf("%s broker is sealed", redCross)
		} else {
			log.Info().Msgf("%s broker is unsealed", greenCheck)
		}
		return nil
	},
}

var sealUnsealCmd = &cobra.Command{
	Use:   "unseal <master-key-hex>",
	Short: "Unseal the broker with the master key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		if _, err := cli.Unseal(cmd.Context(), args[0]); err != nil {
			log.Error().Msgf("%s unseal failed", redCross)
			return err
		}
		log.Info().Msgf("%s broker unsealed", greenCheck)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
	sealCmd.AddCommand(sealStatusCmd)
	sealCmd.AddCommand(sealUnsealCmd)
}
