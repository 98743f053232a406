package service

import (
	"context"
	"fmt"
	"time"

	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

// minorPerMajor converts minor currency units to major units.
const minorPerMajor = 100

// MonthStats reports money paid against money required for one month,
// both in major currency units.
type MonthStats struct {
	Required int64 `json:"required"`
	Paid     int64 `json:"paid"`
}

// StatsService aggregates period totals.
type StatsService struct {
	store  ledger.Reader
	policy config.Policy
	now    Clock
}

// NewStatsService creates a new StatsService.
func NewStatsService(store ledger.Reader, policy config.Policy, now Clock) *StatsService {
	if now == nil {
		now = time.Now
	}
	return &StatsService{store: store, policy: policy, now: now}
}

// Month returns the totals for period p. Each assignment contributes its
// transfer's amount divided by the number of assignments sharing that
// transfer, floored.
func (s *StatsService) Month(ctx context.Context, p model.Period) (MonthStats, error) {
	shares, err := s.store.PeriodShares(ctx, p)
	if err != nil {
		return MonthStats{}, fmt.Errorf("period shares: %w", err)
	}

	var paid int64
	for _, sh := range shares {
		share, _ := model.Split(sh.Amount, sh.Refs)
		paid += share
	}

	return MonthStats{
		Required: s.policy.MoneyRequired,
		Paid:     floorDiv(paid, minorPerMajor),
	}, nil
}

// Current returns the totals for the current month.
func (s *StatsService) Current(ctx context.Context) (MonthStats, error) {
	return s.Month(ctx, model.PeriodOf(s.now()))
}

// Modified returns the date of the newest transfer, or nil if there are none.
func (s *StatsService) Modified(ctx context.Context) (*time.Time, error) {
	latest, ok, err := s.store.LatestTransferDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest transfer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &latest, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
