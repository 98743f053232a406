package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/metrics"
)

// Sink delivers one summary.
type Sink interface {
	Name() string
	Send(ctx context.Context, s Summary) error
}

// LogSink writes summaries to the logger. Used when no delivery channel is
// configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (l *LogSink) Name() string { return "log" }

// Send implements Sink.
func (l *LogSink) Send(_ context.Context, s Summary) error {
	l.logger.Info("dues summary",
		slog.String("username", s.Username),
		slog.Int("months_due", s.MonthsDue),
		slog.String("level", string(s.Level)),
		slog.String("text", s.Text),
	)
	return nil
}

// Report counts the outcome of one dispatch run.
type Report struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher sends a summary to every active member.
type Dispatcher struct {
	store    ledger.Reader
	policy   config.Policy
	sinks    []Sink
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher delivering through sinks.
func NewDispatcher(store ledger.Reader, policy config.Policy, sinks []Sink, recorder metrics.Recorder, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:    store,
		policy:   policy,
		sinks:    sinks,
		recorder: recorder,
		logger:   logger,
		now:      now,
	}
}

// Send builds and delivers summaries for all active members, or only for
// the named ones when usernames is non-empty. A member counts as sent when
// every sink accepted its summary.
func (d *Dispatcher) Send(ctx context.Context, usernames ...string) (Report, error) {
	members, err := d.store.ListMembers(ctx, ledger.MemberFilter{ActiveOnly: true})
	if err != nil {
		return Report{}, fmt.Errorf("list members: %w", err)
	}

	only := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		only[u] = true
	}

	now := d.now()
	var report Report
	for _, m := range members {
		if len(only) > 0 && !only[m.Username] {
			continue
		}

		s, err := BuildSummary(m, d.policy, now)
		if err != nil {
			return report, err
		}

		ok := true
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, s); err != nil {
				ok = false
				d.logger.Error("summary delivery failed",
					slog.String("username", m.Username),
					slog.String("sink", sink.Name()),
					slog.String("error", err.Error()),
				)
			}
		}

		if ok {
			report.Sent++
			d.recorder.IncNotification("sent")
		} else {
			report.Failed++
			d.recorder.IncNotification("failed")
		}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	d.logger.Info("summaries dispatched", slog.Int("sent", report.Sent), slog.Int("failed", report.Failed))
	return report, nil
}
