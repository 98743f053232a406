package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/app"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Assign transfers to member periods",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "easy",
		Short: "Assign every unambiguous unmatched transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconcile.MatchEasy(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "matched %d, left %d\n", report.Matched, report.Left)
				return nil
			})
		},
	})
	cmd.AddCommand(matchManualCmd())
	return cmd
}

func matchManualCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "manual <username> <transfer-uid>",
		Short: "Assign a transfer to a member's next unpaid months",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				created, err := a.Reconcile.Match(ctx, args[0], args[1], months)
				if err != nil {
					return err
				}
				for _, mt := range created {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], mt.Period)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&months, "months", "m", 1, "number of consecutive months the transfer pays")
	return cmd
}
