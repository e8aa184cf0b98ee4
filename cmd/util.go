package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/jmelchers/arvon/pkg/client"
)

var (
	greenCheck = color.GreenString("✓")
	redCross   = color.RedString("✗")
)

func getClient() (*client.Client, error) {
	// we need the user to provide some server address first
	server := viper.GetString(ArvonAddrKey)
	if server == "" {
		return nil, fmt.Errorf("server address not configured (use --server or set ARVON_ADDR)")
	}
	return client.New(server, client.WithAuthToken(viper.GetString(ArvonTokenKey))), nil
}

func applyTableFormat(t table.Writer) {
	t.SetStyle(table.StyleLight)
	if viper.GetBool(LogNoColorKey) {
		t.Style().Options.DrawBorder = true
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
