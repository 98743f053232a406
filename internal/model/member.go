package model

import (
	"slices"
	"strings"
	"time"
)

// Tier is a member's fee tier.
type Tier string

// Fee tiers.
const (
	TierNormal   Tier = "normal"
	TierStarving Tier = "starving"
	TierFatty    Tier = "fatty"
)

// ValidTiers contains all valid tier values.
var ValidTiers = []Tier{TierNormal, TierStarving, TierFatty}

// IsValid checks if the tier is one of the known tiers.
func (t Tier) IsValid() bool {
	return slices.Contains(ValidTiers, t)
}

// Member is a person paying dues.
type Member struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Tier      Tier      `json:"type"`
	Active    bool      `json:"active"`
	Accounts  []string  `json:"accounts,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Assignments is kept sorted by period, oldest first.
	Assignments []MemberTransfer `json:"-"`
}

// HasAccount reports whether account is registered for the member.
// Account numbers are compared after NormalizeAccount.
func (m *Member) HasAccount(account string) bool {
	norm := NormalizeAccount(account)
	if norm == "" {
		return false
	}
	for _, a := range m.Accounts {
		if NormalizeAccount(a) == norm {
			return true
		}
	}
	return false
}

// HasPeriod reports whether the member already has an assignment for p.
func (m *Member) HasPeriod(p Period) bool {
	for _, mt := range m.Assignments {
		if mt.Period == p {
			return true
		}
	}
	return false
}

// Append adds an assignment and keeps Assignments ordered.
func (m *Member) Append(mt MemberTransfer) {
	m.Assignments = append(m.Assignments, mt)
	SortAssignments(m.Assignments)
}

// SortAssignments orders assignments by period index.
func SortAssignments(mts []MemberTransfer) {
	slices.SortStableFunc(mts, func(a, b MemberTransfer) int {
		return a.Period.Compare(b.Period)
	})
}

// NormalizeAccount strips spaces, dashes and a leading country code from an
// account number so that differently formatted statements compare equal.
func NormalizeAccount(account string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(account) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 2 && s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'A' && s[1] <= 'Z' {
		s = s[2:]
	}
	return s
}
