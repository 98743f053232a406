package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/duesledger/duesledger/internal/arrears"
	"github.com/duesledger/duesledger/internal/cache"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/model"
)

// Username validation: 2-32 chars, lowercase alphanumeric plus . _ -
var usernameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,31}$`)

// TransferInfo is a transfer as shown to members.
type TransferInfo struct {
	UID     string `json:"uid"`
	Amount  int64  `json:"amount"`
	Title   string `json:"title"`
	Account string `json:"account"`
	From    string `json:"from"`
}

// PaidPeriod is one paid month of a member.
type PaidPeriod struct {
	Year     int          `json:"year"`
	Month    int          `json:"month"`
	Transfer TransferInfo `json:"transfer"`
}

// MemberInfo is the private view of one member's dues.
type MemberInfo struct {
	Username   string       `json:"username"`
	Paid       []PaidPeriod `json:"paid"`
	MonthsDue  int          `json:"months_due"`
	AmountDue  int64        `json:"amount_due"`
	Membership model.Tier   `json:"membership"`
	Active     bool         `json:"active"`
}

// MemberListEntry is one row of the public member list.
type MemberListEntry struct {
	Username  string        `json:"username"`
	Type      model.Tier    `json:"type"`
	MonthsDue int           `json:"months_due"`
	Since     *time.Time    `json:"since"`
}

// MemberService administers members and reports their dues.
type MemberService struct {
	store   ledger.Store
	cache   PageCache
	policy  config.Policy
	metrics metrics.Recorder
	logger  *slog.Logger
	now     Clock
}

// NewMemberService creates a new MemberService.
func NewMemberService(store ledger.Store, pages PageCache, policy config.Policy, recorder metrics.Recorder, logger *slog.Logger, now Clock) *MemberService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if now == nil {
		now = time.Now
	}
	return &MemberService{
		store:   store,
		cache:   pages,
		policy:  policy,
		metrics: recorder,
		logger:  logger,
		now:     now,
	}
}

// Add creates an active member.
func (s *MemberService) Add(ctx context.Context, username string, tier model.Tier, accounts []string) (*model.Member, error) {
	if !usernameRegex.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if !tier.IsValid() {
		return nil, ErrInvalidTier
	}

	m := &model.Member{
		ID:        newID(),
		Username:  username,
		Tier:      tier,
		Active:    true,
		Accounts:  accounts,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InTx(ctx, func(w ledger.Writer) error {
		return w.CreateMember(ctx, m)
	}); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Info("member added", slog.String("member", username), slog.String("tier", string(tier)))
	return m, nil
}

// SetActive activates or deactivates a member.
func (s *MemberService) SetActive(ctx context.Context, username string, active bool) error {
	if err := s.store.InTx(ctx, func(w ledger.Writer) error {
		return w.SetMemberActive(ctx, username, active)
	}); err != nil {
		return err
	}

	s.invalidate(ctx)
	s.logger.Info("member updated", slog.String("member", username), slog.Bool("active", active))
	return nil
}

// AddAccount registers a source account number for a member.
func (s *MemberService) AddAccount(ctx context.Context, username, account string) error {
	if model.NormalizeAccount(account) == "" {
		return fmt.Errorf("empty account number")
	}
	return s.store.InTx(ctx, func(w ledger.Writer) error {
		return w.AddMemberAccount(ctx, username, account)
	})
}

// Usernames returns every member's username, sorted.
func (s *MemberService) Usernames(ctx context.Context) ([]string, error) {
	members, err := s.store.ListMembers(ctx, ledger.MemberFilter{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username)
	}
	return names, nil
}

// Info returns a member's payment history and current arrears.
func (s *MemberService) Info(ctx context.Context, username string) (*MemberInfo, error) {
	m, err := s.store.GetMember(ctx, username)
	if err != nil {
		return nil, err
	}

	now := model.PeriodOf(s.now())
	info := &MemberInfo{
		Username:   m.Username,
		Paid:       make([]PaidPeriod, 0, len(m.Assignments)),
		MonthsDue:  arrears.MonthsDue(m, now),
		AmountDue:  arrears.AmountDue(m, s.policy.Fee(m.Tier), now),
		Membership: m.Tier,
		Active:     m.Active,
	}
	for _, mt := range m.Assignments {
		pp := PaidPeriod{Year: mt.Period.Year, Month: mt.Period.Month}
		if t := mt.Transfer; t != nil {
			pp.Transfer = TransferInfo{
				UID:     t.UID,
				Amount:  t.Amount,
				Title:   t.Title,
				Account: t.AccountFrom,
				From:    t.NameFrom,
			}
		}
		info.Paid = append(info.Paid, pp)
	}
	return info, nil
}

// MonthsDue returns the member's months owed. ok is false when the member is
// unknown or has never paid.
func (s *MemberService) MonthsDue(ctx context.Context, username string) (due int, ok bool, err error) {
	m, err := s.store.GetMember(ctx, username)
	if err != nil {
		if errors.Is(err, ledger.ErrMemberNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if _, paid := arrears.LastPaid(m); !paid {
		return 0, false, nil
	}
	return arrears.MonthsDue(m, model.PeriodOf(s.now())), true, nil
}

// MemberList returns active members owing at most the policy's cutoff,
// as encoded JSON. The result is served from the page cache when present.
func (s *MemberService) MemberList(ctx context.Context) ([]byte, error) {
	if data, err := s.cache.GetPage(ctx, MemberListPage); err == nil {
		s.metrics.IncMemberListCacheHit()
		return data, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("member list cache read failed", slog.String("error", err.Error()))
	}
	s.metrics.IncMemberListCacheMiss()

	members, err := s.store.ListMembers(ctx, ledger.MemberFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	now := model.PeriodOf(s.now())
	entries := make([]MemberListEntry, 0, len(members))
	for _, m := range members {
		due := arrears.MonthsDue(m, now)
		if due > s.policy.MemberListMaxDue {
			continue
		}
		e := MemberListEntry{Username: m.Username, Type: m.Tier, MonthsDue: due}
		// Assignments are period ordered; since is the date of the
		// transfer paying the earliest month.
		if len(m.Assignments) > 0 && m.Assignments[0].Transfer != nil {
			first := m.Assignments[0].Transfer.Date
			e.Since = &first
		}
		entries = append(entries, e)
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode member list: %w", err)
	}
	if err := s.cache.SetPage(ctx, MemberListPage, data); err != nil {
		s.logger.Warn("member list cache write failed", slog.String("error", err.Error()))
	}
	return data, nil
}

func (s *MemberService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidatePages(ctx, MemberListPage); err != nil {
		s.logger.Warn("failed to invalidate member list cache", slog.String("error", err.Error()))
	}
}
