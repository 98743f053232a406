package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duesledger/duesledger/internal/arrears"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/matcher"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/model"
)

// MatchReport summarizes an automatic matching run.
type MatchReport struct {
	Matched int `json:"matched"`
	Left    int `json:"left"`
}

// ReconcileService assigns transfers to member periods.
type ReconcileService struct {
	store   ledger.Store
	cache   PageCache
	metrics metrics.Recorder
	logger  *slog.Logger
	now     Clock
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(store ledger.Store, cache PageCache, recorder metrics.Recorder, logger *slog.Logger, now Clock) *ReconcileService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if now == nil {
		now = time.Now
	}
	return &ReconcileService{
		store:   store,
		cache:   cache,
		metrics: recorder,
		logger:  logger,
		now:     now,
	}
}

// MatchEasy classifies every unassigned transfer against the active members
// and assigns each unambiguous one to its member's next unpaid period.
//
// The whole batch runs in one ledger transaction. Transfers that match
// nobody or several members are left for manual handling and counted in
// Left. Running MatchEasy again right away matches nothing.
func (s *ReconcileService) MatchEasy(ctx context.Context) (MatchReport, error) {
	start := time.Now()
	now := model.PeriodOf(s.now())

	var report MatchReport
	var outcomes []matcher.Outcome

	err := s.store.InTx(ctx, func(w ledger.Writer) error {
		report = MatchReport{}
		outcomes = outcomes[:0]

		transfers, err := w.ListUnassignedTransfers(ctx)
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			return nil
		}

		members, err := w.ListMembers(ctx, ledger.MemberFilter{ActiveOnly: true})
		if err != nil {
			return err
		}

		for _, t := range transfers {
			res := matcher.Classify(t, members)
			outcomes = append(outcomes, res.Outcome)

			if res.Outcome != matcher.MatchOK {
				s.logger.Debug("transfer left unmatched",
					slog.String("transfer", t.UID),
					slog.String("outcome", res.Outcome.String()),
					slog.Any("candidates", res.Candidates),
				)
				report.Left++
				continue
			}

			mt := model.MemberTransfer{
				ID:       newID(),
				MemberID: res.Member.ID,
				Period:   arrears.NextUnpaid(res.Member, now),
				Transfer: t,
				Refs:     1,
			}
			if err := w.CreateAssignment(ctx, &mt); err != nil {
				return fmt.Errorf("assign transfer %s to %s: %w", t.UID, res.Member.Username, err)
			}
			// Later transfers for the same member in this batch take the
			// following period.
			res.Member.Append(mt)
			report.Matched++
		}
		return nil
	})
	if err != nil {
		return MatchReport{}, fmt.Errorf("match easy: %w", err)
	}

	for _, o := range outcomes {
		s.metrics.IncReconcileOutcome(o.String())
	}
	s.metrics.AddAssignmentsCreated(report.Matched)
	s.metrics.ObserveMatchDuration(time.Since(start))

	if report.Matched > 0 {
		s.invalidate(ctx)
	}

	s.logger.Info("automatic match finished",
		slog.Int("matched", report.Matched),
		slog.Int("left", report.Left),
	)
	return report, nil
}

// Match assigns transfer uid to count consecutive periods of member,
// starting at the member's next unpaid period. All assignments share the
// transfer, so its amount is split evenly across them.
//
// Nothing is written unless every period is assigned.
func (s *ReconcileService) Match(ctx context.Context, username, uid string, count int) ([]model.MemberTransfer, error) {
	if count < 1 || count > MaxMatchMonths {
		return nil, ErrInvalidCount
	}
	now := model.PeriodOf(s.now())

	var created []model.MemberTransfer
	err := s.store.InTx(ctx, func(w ledger.Writer) error {
		created = created[:0]

		m, err := w.GetMember(ctx, username)
		if err != nil {
			return err
		}
		t, err := w.GetTransfer(ctx, uid)
		if err != nil {
			return err
		}
		if t.Amount <= 0 {
			return ErrNotIncoming
		}

		first := arrears.NextUnpaid(m, now)
		for i := 0; i < count; i++ {
			mt := model.MemberTransfer{
				ID:       newID(),
				MemberID: m.ID,
				Period:   first.Add(i),
				Transfer: t,
			}
			if err := w.CreateAssignment(ctx, &mt); err != nil {
				return fmt.Errorf("assign %s: %w", mt.Period, err)
			}
			created = append(created, mt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddAssignmentsCreated(len(created))
	s.invalidate(ctx)

	s.logger.Info("manual match",
		slog.String("member", username),
		slog.String("transfer", uid),
		slog.String("from", created[0].Period.String()),
		slog.Int("months", count),
	)
	return created, nil
}

// Import stores parsed transfers, skipping uids already known.
// It returns how many transfers were new.
func (s *ReconcileService) Import(ctx context.Context, transfers []*model.Transfer) (int, error) {
	if len(transfers) == 0 {
		return 0, nil
	}

	var inserted int
	err := s.store.InTx(ctx, func(w ledger.Writer) error {
		var err error
		inserted, err = w.InsertTransfers(ctx, transfers)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("import transfers: %w", err)
	}

	s.metrics.AddTransfersImported(inserted)
	s.logger.Info("transfers imported",
		slog.Int("received", len(transfers)),
		slog.Int("new", inserted),
	)
	return inserted, nil
}

// Unmatched returns transfers not assigned to any member, oldest first.
func (s *ReconcileService) Unmatched(ctx context.Context) ([]*model.Transfer, error) {
	return s.store.ListUnassignedTransfers(ctx)
}

func (s *ReconcileService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidatePages(ctx, MemberListPage); err != nil {
		s.logger.Warn("failed to invalidate member list cache", slog.String("error", err.Error()))
	}
}
