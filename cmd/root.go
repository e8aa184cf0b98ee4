package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmelchers/arvon/internal/buildinfo"
	"github.com/jmelchers/arvon/internal/logging"
)

// global flags
var (
	cfgFile   string
	arvonAddr string
)

const (
	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"

	ArvonAddrKey  = "addr"
	ArvonTokenKey = "token"
)

var rootCmd = &cobra.Command{
	Use:   "arvon",
	Short: fmt.Sprintf("Arvon credential broker (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `Arvon is a dynamic credential broker. It authenticates workloads via
federated identity, authorizes them against declarative policies and hands
out short-lived, auto-expiring database credentials tracked as leases.`,
	Version: buildinfo.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(nil)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "arvon.yaml",
		"Path to the broker configuration file")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(LogLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(LogFormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(LogNoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.PersistentFlags().StringVar(&arvonAddr, "server", "", "Address of the remote arvon server")
	_ = viper.BindPFlag(ArvonAddrKey, rootCmd.PersistentFlags().Lookup("server"))

	viper.SetEnvPrefix("ARVON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))

	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}
