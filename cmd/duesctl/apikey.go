package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/app"
	"github.com/duesledger/duesledger/internal/model"
)

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage private API keys",
	}
	cmd.AddCommand(apikeyIssueCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.APIKeys.Revoke(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				keys, err := a.APIKeys.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tMEMBER\tCREATED")
				for _, k := range keys {
					member := "*"
					if u := model.ScopeMember(k.Scope); u != nil {
						member = *u
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.ID, k.Name, member, k.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func apikeyIssueCmd() *cobra.Command {
	var (
		name   string
		member string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a key and print its secret once",
		Long: `Issue a private API key. Without --member the key is unscoped and may
call every private method. With --member it may only read that member's
data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var scope *string
				if member != "" {
					scope = &member
				}
				issued, err := a.APIKeys.Issue(ctx, name, scope)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "key_id: %s\n", issued.Key.ID)
				fmt.Fprintf(out, "secret: %s\n", issued.Secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "label for the key")
	cmd.Flags().StringVarP(&member, "member", "m", "", "restrict the key to one member")
	return cmd
}
