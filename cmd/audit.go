package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// auditCmd retrieves and displays audit log entries.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Retrieve and display audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		cli, err := getClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Fetching audit log...")
		audits, _, err := cli.ListAudits(cmd.Context(), uint(limit))
		if err != nil {
			return err
		}

		log.Info().Msgf("Retrieved %d audit entries", len(audits))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Time", "Action", "Subject", "Role", "Granted", "Error",
		})

		for _, e := range audits {
			status := greenCheck
			if !e.Granted {
				status = redCross
			}

			t.AppendRow(table.Row{
				e.Time.Format("15:04:05"),
				e.Action,
				truncate(e.Subject, 35),
				e.Role,
				status,
				truncate(e.Error, 45),
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Int("limit", 50, "Maximum number of entries to retrieve")
}
