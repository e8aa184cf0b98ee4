package cmd

import (
	"github.com/spf13/cobra"
)

// leaseCmd groups the lease lifecycle commands.
var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Issue, renew, revoke and inspect credential leases",
}

func init() {
	rootCmd.AddCommand(leaseCmd)
	leaseCmd.AddCommand(leaseIssueCmd)
	leaseCmd.AddCommand(leaseRenewCmd)
	leaseCmd.AddCommand(leaseRevokeCmd)
	leaseCmd.AddCommand(leaseLookupCmd)
	leaseCmd.AddCommand(leaseListCmd)
}
