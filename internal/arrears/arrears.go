// Package arrears computes a member's dues position from its assignment history.
// All functions are pure; the current period is always passed in.
package arrears

import "github.com/duesledger/duesledger/internal/model"

// Standing describes a member's months_due in words.
type Standing string

// Standing values.
const (
	StandingAhead   Standing = "ahead"
	StandingCurrent Standing = "current"
	StandingOwing   Standing = "owing"
)

// LastPaid returns the assignment with the latest period.
// ok is false if the member has never paid.
func LastPaid(m *model.Member) (last model.MemberTransfer, ok bool) {
	for _, mt := range m.Assignments {
		if !ok || mt.Period.Index() > last.Period.Index() {
			last = mt
			ok = true
		}
	}
	return last, ok
}

// NextUnpaid returns the first period after the last paid one, or now for a
// member without any history.
func NextUnpaid(m *model.Member, now model.Period) model.Period {
	last, ok := LastPaid(m)
	if !ok {
		return now
	}
	return last.Period.Add(1)
}

// MonthsDue returns how many periods the member owes as of now.
// Negative means paid ahead. A member that never paid owes nothing.
func MonthsDue(m *model.Member, now model.Period) int {
	last, ok := LastPaid(m)
	if !ok {
		return 0
	}
	return now.Sub(last.Period)
}

// StandingOf classifies a months_due value.
func StandingOf(monthsDue int) Standing {
	switch {
	case monthsDue < 0:
		return StandingAhead
	case monthsDue == 0:
		return StandingCurrent
	default:
		return StandingOwing
	}
}

// AmountDue returns monthsDue times the member's monthly fee, in minor units.
// It is negative when the member paid ahead.
func AmountDue(m *model.Member, fee int64, now model.Period) int64 {
	return int64(MonthsDue(m, now)) * fee
}
