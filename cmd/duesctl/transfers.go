package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/app"
	"github.com/duesledger/duesledger/internal/importer"
)

func transfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Import and inspect bank transfers",
	}
	cmd.AddCommand(transfersImportCmd())
	cmd.AddCommand(transfersWatchCmd())
	cmd.AddCommand(transfersUnmatchedCmd())
	return cmd
}

func transfersImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import CSV or JSON bank statements",
		Long: `Import one or more bank statement files. Transfers whose uid is
already in the ledger are skipped, so re-importing a statement is harmless.

CSV files need a header with at least uid, date and amount columns;
title, account_from and name_from are optional. JSON files hold an array
of objects with the same field names.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				for _, path := range args {
					n, err := importer.ImportFile(ctx, a.Reconcile, path)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new transfers\n", path, n)
				}
				return nil
			})
		},
	}
}

func transfersWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import statement files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				w, err := importer.NewWatcher(args[0], a.Reconcile, a.Logger, debounce)
				if err != nil {
					return err
				}
				defer w.Close()

				w.Run(ctx)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", importer.DefaultDebounce, "quiet time before a new file is read")
	return cmd
}

func transfersUnmatchedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatched",
		Short: "List transfers not assigned to any member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				transfers, err := a.Reconcile.Unmatched(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "UID\tDATE\tAMOUNT\tFROM\tACCOUNT\tTITLE")
				for _, t := range transfers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						t.UID, t.Date.Format(time.DateOnly), formatMinor(t.Amount), t.NameFrom, t.AccountFrom, t.Title)
				}
				return tw.Flush()
			})
		},
	}
}
