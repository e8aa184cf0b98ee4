package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmelchers/arvon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with the broker configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the broker configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			log.Error().Msgf("%s configuration is invalid", redCross)
			return err
		}

		log.Info().Msgf("%s configuration is valid", greenCheck)
		log.Info().Msgf("listen: %s", cfg.Listen)
		log.Info().Msgf("verifiers: %d, backends: %d", len(cfg.Verifiers), len(cfg.Backends))
		log.Info().Msgf("seeded roles: %d, policies: %d, identity mappings: %d",
			len(cfg.Roles), len(cfg.Policies), len(cfg.IdentityMappings))
		if cfg.Seal.MasterKey == "" {
			fmt.Println("note: no seal.master_key set, broker will start sealed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}
