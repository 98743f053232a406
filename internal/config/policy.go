package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/duesledger/duesledger/internal/model"
)

// Policy holds the business values the ledger consumes as plain numbers.
// Amounts are in minor currency units except MoneyRequired.
type Policy struct {
	Fees map[model.Tier]int64 `yaml:"fees"`

	// MoneyRequired is the monthly budget in major units.
	MoneyRequired int64 `yaml:"money_required"`

	// MemberListMaxDue hides members owing more months from the public list.
	MemberListMaxDue int `yaml:"member_list_max_due"`

	// Arrears thresholds used when rendering summaries.
	WarnMonths     int `yaml:"warn_months"`
	CriticalMonths int `yaml:"critical_months"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Fees: map[model.Tier]int64{
			model.TierNormal:   10000,
			model.TierStarving: 5000,
			model.TierFatty:    10000,
		},
		MoneyRequired:    4300,
		MemberListMaxDue: 3,
		WarnMonths:       1,
		CriticalMonths:   3,
	}
}

// Fee returns the monthly fee for tier.
func (p Policy) Fee(tier model.Tier) int64 {
	return p.Fees[tier]
}

// Validate checks that every tier has a fee and thresholds are ordered.
func (p Policy) Validate() error {
	for _, tier := range model.ValidTiers {
		fee, ok := p.Fees[tier]
		if !ok || fee < 0 {
			return fmt.Errorf("missing or negative fee for tier %q", tier)
		}
	}
	for tier := range p.Fees {
		if !tier.IsValid() {
			return fmt.Errorf("unknown tier %q", tier)
		}
	}
	if p.MoneyRequired < 0 {
		return fmt.Errorf("money_required must not be negative")
	}
	if p.WarnMonths > p.CriticalMonths {
		return fmt.Errorf("warn_months (%d) exceeds critical_months (%d)", p.WarnMonths, p.CriticalMonths)
	}
	return nil
}

// LoadPolicy reads a YAML policy file over the defaults. An empty path
// returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}

	// Scalars decode over the defaults so explicit zeros survive. Fees
	// are decoded on their own and merged per tier.
	defaultFees := p.Fees
	p.Fees = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	fees := make(map[model.Tier]int64, len(defaultFees)+len(p.Fees))
	for tier, fee := range defaultFees {
		fees[tier] = fee
	}
	for tier, fee := range p.Fees {
		fees[tier] = fee
	}
	p.Fees = fees

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}
