package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/app"
	"github.com/duesledger/duesledger/internal/model"
)

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage members",
	}
	cmd.AddCommand(memberAddCmd())
	cmd.AddCommand(memberSetActiveCmd("activate", true))
	cmd.AddCommand(memberSetActiveCmd("deactivate", false))
	cmd.AddCommand(memberAccountCmd())
	cmd.AddCommand(memberListCmd())
	cmd.AddCommand(memberInfoCmd())
	return cmd
}

func memberAddCmd() *cobra.Command {
	var (
		tier     string
		accounts []string
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add an active member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Members.Add(ctx, args[0], model.Tier(tier), accounts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", m.Username, m.Tier)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&tier, "tier", "t", string(model.TierNormal), "membership tier (normal, starving, fatty)")
	cmd.Flags().StringSliceVarP(&accounts, "account", "a", nil, "source account number (repeatable)")
	return cmd
}

func memberSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Members.SetActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", args[0], active)
				return nil
			})
		},
	}
}

func memberAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account <username> <account>",
		Short: "Register a source account number for a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Members.AddAccount(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s added to %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members with their arrears",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				names, err := a.Members.Usernames(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tTIER\tACTIVE\tMONTHS DUE\tAMOUNT DUE")
				for _, name := range names {
					info, err := a.Members.Info(ctx, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n",
						info.Username, info.Membership, info.Active, info.MonthsDue, formatMinor(info.AmountDue))
				}
				return tw.Flush()
			})
		},
	}
}

func memberInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <username>",
		Short: "Show a member's paid periods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				info, err := a.Members.Info(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s) active=%t months_due=%d amount_due=%s\n",
					info.Username, info.Membership, info.Active, info.MonthsDue, formatMinor(info.AmountDue))

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PERIOD\tTRANSFER\tAMOUNT\tTITLE")
				for _, p := range info.Paid {
					fmt.Fprintf(tw, "%04d-%02d\t%s\t%s\t%s\n",
						p.Year, p.Month, p.Transfer.UID, formatMinor(p.Transfer.Amount), p.Transfer.Title)
				}
				return tw.Flush()
			})
		},
	}
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
