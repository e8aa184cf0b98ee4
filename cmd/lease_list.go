package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var leaseListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all leases (operator)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Retrieving leases...")
		leases, _, err := cli.ListLeases(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing leases: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Lease", "Role", "State", "Expires", "Renewals"})

		now := time.Now()
		for _, l := range leases {
			state := l.State
			switch {
			case l.State == "revocation_failed":
				state = color.RedString(l.State)
			case l.ExpiresAt.Before(now):
				state = color.YellowString("expired")
			}

			t.AppendRow(table.Row{
				truncate(l.LeaseID, 12),
				l.Role,
				state,
				l.ExpiresAt.Format("15:04:05"),
				l.Renewals,
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}
