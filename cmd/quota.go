package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show each credential's remaining quota for today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := appInstance.Quota(cmd.Context())
			if err != nil {
				return fmt.Errorf("quota: %w", err)
			}
			total := 0
			for _, r := range reports {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", r.CredentialID, r.Remaining)
				total += r.Remaining
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total\t%d\n", total)
			return nil
		},
	}
}

func newResetQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-quota",
		Short: "Drop quota ledger entries not dated today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.ResetQuota(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "quota ledgers pruned")
			return nil
		},
	}
}
