// Package model defines domain entities for the application.
package model

import (
	"fmt"
	"time"
)

// Period is one calendar month of dues.
// Periods are compared and subtracted through their linear index
// year*12 + (month-1), which keeps arithmetic monotonic across year boundaries.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// PeriodFromIndex is the inverse of Period.Index.
func PeriodFromIndex(idx int) Period {
	year := idx / 12
	month := idx % 12
	if month < 0 {
		month += 12
		year--
	}
	return Period{Year: year, Month: month + 1}
}

// ParsePeriod parses a year and month, rejecting months outside 1..12.
func ParsePeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1 {
		return Period{}, fmt.Errorf("invalid year %d", year)
	}
	return Period{Year: year, Month: month}, nil
}

// Index returns the linear month index of the period.
func (p Period) Index() int {
	return p.Year*12 + (p.Month - 1)
}

// Add returns the period n months after p (n may be negative).
func (p Period) Add(n int) Period {
	return PeriodFromIndex(p.Index() + n)
}

// Sub returns the number of months from q to p.
func (p Period) Sub(q Period) int {
	return p.Index() - q.Index()
}

// Compare returns -1, 0 or +1 depending on whether p is before, equal to or after q.
func (p Period) Compare(q Period) int {
	switch d := p.Sub(q); {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Before reports whether p is strictly earlier than q.
func (p Period) Before(q Period) bool {
	return p.Index() < q.Index()
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
