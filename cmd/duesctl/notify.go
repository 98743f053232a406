package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duesledger/duesledger/internal/app"
	"github.com/duesledger/duesledger/internal/notify"
)

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send arrears summaries to members",
	}
	cmd.AddCommand(notifySendCmd())
	return cmd
}

func notifySendCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "send [username]...",
		Short: "Send a dues summary to active members",
		Long: `Build a dues summary for every active member (or only the named ones)
and deliver it to the mailer webhook and NATS when configured. With
neither configured, or with --dry-run, summaries are only logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sinks, closeSinks, err := buildSinks(a, dryRun)
				if err != nil {
					return err
				}
				defer closeSinks()

				d := notify.NewDispatcher(a.Store, a.Policy, sinks, a.Recorder, a.Logger, nil)
				report, err := d.Send(ctx, args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d\n", report.Sent, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d summaries were not delivered", report.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log summaries instead of delivering them")
	return cmd
}

func buildSinks(a *app.App, dryRun bool) ([]notify.Sink, func(), error) {
	cfg := a.Config
	if dryRun || (cfg.MailerWebhookURL == "" && cfg.NATSURL == "") {
		return []notify.Sink{notify.NewLogSink(a.Logger)}, func() {}, nil
	}

	var sinks []notify.Sink
	if cfg.MailerWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.MailerWebhookURL, cfg.MailerWebhookSecret, a.Logger))
	}

	closeFn := func() {}
	if cfg.NATSURL != "" {
		conn, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, notify.NewNATSSink(conn, cfg.NATSSubject))
		closeFn = func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		}
	}
	return sinks, closeFn, nil
}
