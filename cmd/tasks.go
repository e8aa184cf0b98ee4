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

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and trigger background tasks",
}

var tasksListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all background tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Retrieving tasks...")
		tasks, err := cli.ListTasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "State", "Last Run", "Next Run", "Last Result"})

		for _, task := range tasks {
			state := "idle"
			if task.Running {
				state = color.BlueString("running")
			}

			lastRun := "never"
			if !task.LastRun.IsZero() {
				lastRun = time.Since(task.LastRun).Round(time.Second).String() + " ago"
			}

			nextRun := "n/a"
			if !task.NextRun.IsZero() {
				nextRun = "in " + time.Until(task.NextRun).Round(time.Second).String()
			}

			prefix := ""
			if task.LastResult == "success" {
				prefix = greenCheck
			} else if task.LastResult != "" {
				prefix = redCross
			}

			t.AppendRow(table.Row{
				color.New(color.Bold).Sprint(task.Name),
				state,
				lastRun,
				nextRun,
				prefix + " " + task.LastResult,
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

var tasksTriggerCmd = &cobra.Command{
	Use:   "trigger <name>",
	Short: "Trigger a background task immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}
		name := args[0]
		if err := cli.TriggerTask(cmd.Context(), name); err != nil {
			return fmt.Errorf("triggering task: %w", err)
		}
		log.Info().Msgf("%s task %s triggered", greenCheck, color.New(color.Bold).Sprint(name))
		return nil
	},
}

var tasksLogsCmd = &cobra.Command{
	Use:   "logs <name>",
	Short: "Show captured logs of a background task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}
		logs, err := cli.GetTaskLogs(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("retrieving task logs: %w", err)
		}
		for _, entry := range logs {
			log.Info().Msgf("[%s] %s: %s", entry.Time.Format("15:04:05"), entry.Level, entry.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksTriggerCmd)
	tasksCmd.AddCommand(tasksLogsCmd)
}
