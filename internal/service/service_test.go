package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duesledger/duesledger/internal/arrears"
	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/cache"
	"github.com/duesledger/duesledger/internal/config"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/model"
	"github.com/duesledger/duesledger/internal/repository/sqlite"
	"github.com/duesledger/duesledger/internal/testutil"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// memPages is an in-memory PageCache.
type memPages struct {
	pages       map[string][]byte
	invalidated int
}

func newMemPages() *memPages { return &memPages{pages: map[string][]byte{}} }

func (m *memPages) GetPage(_ context.Context, key string) ([]byte, error) {
	if d, ok := m.pages[key]; ok {
		return d, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memPages) SetPage(_ context.Context, key string, data []byte) error {
	m.pages[key] = data
	return nil
}

func (m *memPages) InvalidatePages(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.pages, k)
	}
	m.invalidated++
	return nil
}

type env struct {
	ctx       context.Context
	store     *sqlite.Store
	pages     *memPages
	recorder  *metrics.InMemoryRecorder
	now       time.Time
	reconcile *ReconcileService
	members   *MemberService
	stats     *StatsService
	keys      *APIKeyService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	e := &env{
		ctx:      context.Background(),
		store:    store,
		pages:    newMemPages(),
		recorder: metrics.NewInMemory(),
		now:      time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.DefaultPolicy()

	sealer, err := auth.NewSealer(testSealKey)
	require.NoError(t, err)

	e.reconcile = NewReconcileService(store, e.pages, e.recorder, logger, clock)
	e.members = NewMemberService(store, e.pages, policy, e.recorder, logger, clock)
	e.stats = NewStatsService(store, policy, clock)
	e.keys = NewAPIKeyService(store, sealer, logger, clock)
	return e
}

func (e *env) addMember(t *testing.T, username string, accounts ...string) *model.Member {
	t.Helper()
	m, err := e.members.Add(e.ctx, username, model.TierNormal, accounts)
	require.NoError(t, err)
	return m
}

func (e *env) importTransfers(t *testing.T, transfers ...*model.Transfer) {
	t.Helper()
	_, err := e.reconcile.Import(e.ctx, transfers)
	require.NoError(t, err)
}

func (e *env) assignmentCount(t *testing.T) int {
	t.Helper()
	members, err := e.store.ListMembers(e.ctx, ledger.MemberFilter{})
	require.NoError(t, err)
	n := 0
	for _, m := range members {
		n += len(m.Assignments)
	}
	return n
}

func TestMatch_AliceScenario(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t, testutil.NewTestTransfer(t, "T1", 20000, "dues", 2024, 3))

	alice, err := e.store.GetMember(e.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Period{Year: 2024, Month: 3}, arrears.NextUnpaid(alice, model.PeriodOf(e.now)))

	created, err := e.reconcile.Match(e.ctx, "alice", "T1", 2)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, model.Period{Year: 2024, Month: 3}, created[0].Period)
	assert.Equal(t, model.Period{Year: 2024, Month: 4}, created[1].Period)

	alice, err = e.store.GetMember(e.ctx, "alice")
	require.NoError(t, err)
	last, ok := arrears.LastPaid(alice)
	require.True(t, ok)
	assert.Equal(t, model.Period{Year: 2024, Month: 4}, last.Period)
	assert.Equal(t, -1, arrears.MonthsDue(alice, model.PeriodOf(e.now)))

	// A second match continues after the last paid period.
	e.importTransfers(t, testutil.NewTestTransfer(t, "T2", 10000, "dues", 2024, 3))
	created, err = e.reconcile.Match(e.ctx, "alice", "T2", 1)
	require.NoError(t, err)
	assert.Equal(t, model.Period{Year: 2024, Month: 5}, created[0].Period)
}

func TestMatch_Errors(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t, testutil.NewTestTransfer(t, "T1", 10000, "dues", 2024, 3))

	tests := []struct {
		name     string
		username string
		uid      string
		count    int
		wantErr  error
	}{
		{"zero count", "alice", "T1", 0, ErrInvalidCount},
		{"too many", "alice", "T1", MaxMatchMonths + 1, ErrInvalidCount},
		{"unknown member", "bob", "T1", 1, ledger.ErrMemberNotFound},
		{"unknown transfer", "alice", "T9", 1, ledger.ErrTransferNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.reconcile.Match(e.ctx, tt.username, tt.uid, tt.count)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, e.assignmentCount(t))
}

func TestMatch_AtomicOnFailure(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t, testutil.NewTestTransfer(t, "T1", 30000, "dues", 2024, 3))

	// The second CreateAssignment fails; the first must be rolled back.
	failing := &failingStore{Store: e.store, failAfter: 1}
	svc := NewReconcileService(failing, e.pages, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time { return e.now })

	_, err := svc.Match(e.ctx, "alice", "T1", 3)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, e.assignmentCount(t))

	unmatched, err := e.reconcile.Unmatched(e.ctx)
	require.NoError(t, err)
	assert.Len(t, unmatched, 1, "transfer stays unassigned")
}

func TestMatch_PeriodTakenRollsBack(t *testing.T) {
	e := newEnv(t)
	alice := e.addMember(t, "alice")
	e.importTransfers(t,
		testutil.NewTestTransfer(t, "T1", 10000, "dues", 2024, 1),
		testutil.NewTestTransfer(t, "T2", 30000, "dues", 2024, 3),
	)

	// A stale member history makes the engine start at a period that is
	// already taken further along.
	stale := &staleStore{Store: e.store}
	require.NoError(t, e.store.InTx(e.ctx, func(w ledger.Writer) error {
		return w.CreateAssignment(e.ctx, &model.MemberTransfer{
			ID: "x", MemberID: alice.ID, Period: model.Period{Year: 2024, Month: 4},
			Transfer: &model.Transfer{UID: "T1"},
		})
	}))
	svc := NewReconcileService(stale, e.pages, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), func() time.Time { return e.now })

	_, err := svc.Match(e.ctx, "alice", "T2", 3)
	require.ErrorIs(t, err, ledger.ErrPeriodTaken)
	assert.Equal(t, 1, e.assignmentCount(t))
}

// staleStore hides member assignments, as if read before a concurrent write.
type staleStore struct {
	*sqlite.Store
}

func (s *staleStore) InTx(ctx context.Context, fn func(w ledger.Writer) error) error {
	return s.Store.InTx(ctx, func(w ledger.Writer) error {
		return fn(&staleWriter{Writer: w})
	})
}

type staleWriter struct {
	ledger.Writer
}

func (w *staleWriter) GetMember(ctx context.Context, username string) (*model.Member, error) {
	m, err := w.Writer.GetMember(ctx, username)
	if err != nil {
		return nil, err
	}
	m.Assignments = nil
	return m, nil
}

// failingStore wraps a store so that CreateAssignment fails after
// failAfter successful calls within a transaction.
type failingStore struct {
	*sqlite.Store
	failAfter int
}

var errInjected = errors.New("injected failure")

func (f *failingStore) InTx(ctx context.Context, fn func(w ledger.Writer) error) error {
	return f.Store.InTx(ctx, func(w ledger.Writer) error {
		return fn(&failingWriter{Writer: w, left: f.failAfter})
	})
}

type failingWriter struct {
	ledger.Writer
	left int
}

func (w *failingWriter) CreateAssignment(ctx context.Context, mt *model.MemberTransfer) error {
	if w.left == 0 {
		return errInjected
	}
	w.left--
	return w.Writer.CreateAssignment(ctx, mt)
}

func TestMatchEasy(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice", "PL11 2222 3333")
	e.addMember(t, "bob")
	e.addMember(t, "carol")
	require.NoError(t, e.members.SetActive(e.ctx, "carol", false))

	e.importTransfers(t,
		// by username
		testutil.NewTestTransfer(t, "T1", 10000, "Dues bob march", 2024, 3),
		// ambiguous
		testutil.NewTestTransfer(t, "T2", 10000, "alice and bob", 2024, 3),
		// nobody
		testutil.NewTestTransfer(t, "T3", 10000, "rent", 2024, 3),
		// inactive member only
		testutil.NewTestTransfer(t, "T4", 10000, "carol", 2024, 3),
	)
	byAccount := testutil.NewTestTransfer(t, "T5", 10000, "membership", 2024, 3)
	byAccount.AccountFrom = "11 2222 3333"
	second := testutil.NewTestTransfer(t, "T6", 10000, "bob again", 2024, 3)
	e.importTransfers(t, byAccount, second)

	report, err := e.reconcile.MatchEasy(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, MatchReport{Matched: 3, Left: 3}, report)

	bob, err := e.store.GetMember(e.ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob.Assignments, 2)
	assert.Equal(t, model.Period{Year: 2024, Month: 3}, bob.Assignments[0].Period)
	assert.Equal(t, model.Period{Year: 2024, Month: 4}, bob.Assignments[1].Period)

	alice, err := e.store.GetMember(e.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice.Assignments, 1)
	assert.Equal(t, "T5", alice.Assignments[0].Transfer.UID)

	unmatched, err := e.reconcile.Unmatched(e.ctx)
	require.NoError(t, err)
	uids := make([]string, 0, len(unmatched))
	for _, tr := range unmatched {
		uids = append(uids, tr.UID)
	}
	assert.ElementsMatch(t, []string{"T2", "T3", "T4"}, uids)

	snap := e.recorder.Snapshot()
	assert.Equal(t, uint64(3), snap.ReconcileOutcomes["ok"])
	assert.Equal(t, uint64(1), snap.ReconcileOutcomes["ambiguous"])
	assert.Equal(t, uint64(2), snap.ReconcileOutcomes["none"])
}

func TestMatchEasy_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t,
		testutil.NewTestTransfer(t, "T1", 10000, "alice", 2024, 3),
		testutil.NewTestTransfer(t, "T2", 10000, "unknown", 2024, 3),
	)

	first, err := e.reconcile.MatchEasy(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Matched)
	count := e.assignmentCount(t)

	second, err := e.reconcile.MatchEasy(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Matched)
	assert.Equal(t, 1, second.Left)
	assert.Equal(t, count, e.assignmentCount(t))
}

func TestMatchEasy_IgnoresOutgoingTransfers(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t,
		testutil.NewTestTransfer(t, "OUT1", -10000, "refund alice", 2024, 3),
		testutil.NewTestTransfer(t, "ZERO", 0, "alice", 2024, 3),
	)

	report, err := e.reconcile.MatchEasy(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, MatchReport{}, report)
	assert.Equal(t, 0, e.assignmentCount(t))

	unmatched, err := e.reconcile.Unmatched(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, unmatched)

	_, err = e.reconcile.Match(e.ctx, "alice", "OUT1", 1)
	require.ErrorIs(t, err, ErrNotIncoming)
	assert.Equal(t, 0, e.assignmentCount(t))

	stats, err := e.stats.Month(e.ctx, model.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Paid)
}

func TestMatchEasy_NoDuplicatePeriods(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	for i, uid := range []string{"T1", "T2", "T3", "T4"} {
		e.importTransfers(t, testutil.NewTestTransfer(t, uid, 10000, "alice", 2024, 1+i))
	}
	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 1)
	require.NoError(t, err)

	_, err = e.reconcile.MatchEasy(e.ctx)
	require.NoError(t, err)

	alice, err := e.store.GetMember(e.ctx, "alice")
	require.NoError(t, err)
	seen := map[model.Period]bool{}
	for _, mt := range alice.Assignments {
		assert.False(t, seen[mt.Period], "duplicate period %s", mt.Period)
		seen[mt.Period] = true
	}
	assert.Len(t, alice.Assignments, 4)
}

func TestStats_SplitTransfer(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.addMember(t, "bob")
	e.importTransfers(t, testutil.NewTestTransfer(t, "T1", 10000, "alice bob", 2024, 3))

	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 1)
	require.NoError(t, err)
	_, err = e.reconcile.Match(e.ctx, "bob", "T1", 1)
	require.NoError(t, err)

	stats, err := e.stats.Month(e.ctx, model.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.Paid, "two halves of T1 add up to 100")
	assert.Equal(t, int64(4300), stats.Required)

	// Splitting across months halves each month's share.
	e.importTransfers(t, testutil.NewTestTransfer(t, "T2", 10000, "carol", 2024, 3))
	e.addMember(t, "carol")
	_, err = e.reconcile.Match(e.ctx, "carol", "T2", 2)
	require.NoError(t, err)

	april, err := e.stats.Month(e.ctx, model.Period{Year: 2024, Month: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(50), april.Paid)

	current, err := e.stats.Current(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), current.Paid)

	modified, err := e.stats.Modified(e.ctx)
	require.NoError(t, err)
	require.NotNil(t, modified)
}

func TestStats_T1SharedBetweenTwoMembers(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.addMember(t, "bob")
	e.importTransfers(t,
		testutil.NewTestTransfer(t, "T1", 10000, "alice bob", 2024, 3),
		testutil.NewTestTransfer(t, "T0", 0, "noise", 2024, 3),
	)

	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 1)
	require.NoError(t, err)

	shares, err := e.store.PeriodShares(e.ctx, model.Period{Year: 2024, Month: 3})
	require.NoError(t, err)
	require.Len(t, shares, 1)

	_, err = e.reconcile.Match(e.ctx, "bob", "T1", 1)
	require.NoError(t, err)

	alice, err := e.store.GetMember(e.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), alice.Assignments[0].Share(), "T1 contributes 50 per member, not 100")
}

func TestStats_EmptyLedger(t *testing.T) {
	e := newEnv(t)

	stats, err := e.stats.Current(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, MonthStats{Required: 4300, Paid: 0}, stats)

	modified, err := e.stats.Modified(e.ctx)
	require.NoError(t, err)
	assert.Nil(t, modified)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(0), floorDiv(99, 100))
	assert.Equal(t, int64(1), floorDiv(199, 100))
	assert.Equal(t, int64(-1), floorDiv(-1, 100))
	assert.Equal(t, int64(-2), floorDiv(-200, 100))
}

func TestMembers_AddValidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.members.Add(e.ctx, "A B", model.TierNormal, nil)
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = e.members.Add(e.ctx, "alice", model.Tier("gold"), nil)
	assert.ErrorIs(t, err, ErrInvalidTier)

	e.addMember(t, "alice")
	_, err = e.members.Add(e.ctx, "alice", model.TierNormal, nil)
	assert.ErrorIs(t, err, ledger.ErrMemberExists)

	assert.ErrorIs(t, e.members.SetActive(e.ctx, "nobody", false), ledger.ErrMemberNotFound)
	assert.ErrorIs(t, e.members.AddAccount(e.ctx, "nobody", "123"), ledger.ErrMemberNotFound)
	assert.Error(t, e.members.AddAccount(e.ctx, "alice", " - "))
}

func TestMembers_InfoAndMonthsDue(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.addMember(t, "bob")
	tr := testutil.NewTestTransfer(t, "T1", 10000, "alice", 2024, 1)
	tr.AccountFrom = "123"
	tr.NameFrom = "Alice A."
	e.importTransfers(t, tr)

	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 1)
	require.NoError(t, err)

	// alice paid March (the current month when matched); move the clock on.
	e.now = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	info, err := e.members.Info(e.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, info.MonthsDue)
	assert.Equal(t, int64(30000), info.AmountDue)
	assert.Equal(t, model.TierNormal, info.Membership)
	require.Len(t, info.Paid, 1)
	assert.Equal(t, PaidPeriod{
		Year: 2024, Month: 3,
		Transfer: TransferInfo{UID: "T1", Amount: 10000, Title: "alice", Account: "123", From: "Alice A."},
	}, info.Paid[0])

	_, err = e.members.Info(e.ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)

	due, ok, err := e.members.MonthsDue(e.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, due)

	_, ok, err = e.members.MonthsDue(e.ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok, "never paid")

	_, ok, err = e.members.MonthsDue(e.ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok, "unknown")

	names, err := e.members.Usernames(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestMembers_MonthsDueMonotonic(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.importTransfers(t, testutil.NewTestTransfer(t, "T1", 10000, "alice", 2024, 3))
	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 3)
	require.NoError(t, err)

	prev := -1 << 31
	for i := 0; i < 24; i++ {
		e.now = time.Date(2024, time.Month(3+i), 1, 0, 0, 0, 0, time.UTC)
		due, ok, err := e.members.MonthsDue(e.ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.GreaterOrEqual(t, due, prev)
		prev = due
	}
}

func TestMembers_MemberListCache(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")
	e.addMember(t, "bob")
	e.importTransfers(t,
		testutil.NewTestTransfer(t, "T1", 10000, "alice", 2023, 1),
		testutil.NewTestTransfer(t, "T2", 10000, "bob", 2024, 3),
	)
	e.now = time.Date(2023, time.January, 10, 0, 0, 0, 0, time.UTC)
	_, err := e.reconcile.Match(e.ctx, "alice", "T1", 1)
	require.NoError(t, err)
	e.now = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	_, err = e.reconcile.Match(e.ctx, "bob", "T2", 1)
	require.NoError(t, err)

	data, err := e.members.MemberList(e.ctx)
	require.NoError(t, err)

	var entries []MemberListEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1, "alice owes 14 months and is hidden")
	assert.Equal(t, "bob", entries[0].Username)
	require.NotNil(t, entries[0].Since)
	assert.True(t, entries[0].Since.Equal(time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)),
		"since is the first transfer's date, got %v", entries[0].Since)

	_, err = e.members.MemberList(e.ctx)
	require.NoError(t, err)
	snap := e.recorder.Snapshot()
	assert.Equal(t, uint64(1), snap.MemberListCacheHits)
	assert.Equal(t, uint64(1), snap.MemberListCacheMisses)

	require.NoError(t, e.members.SetActive(e.ctx, "bob", false))
	_, cached := e.pages.pages[MemberListPage]
	assert.False(t, cached, "deactivation invalidates the member list")
}

func TestAPIKeys_IssueAuthenticateRevoke(t *testing.T) {
	e := newEnv(t)
	e.addMember(t, "alice")

	alice := "alice"
	issued, err := e.keys.Issue(e.ctx, "alice's key", &alice)
	require.NoError(t, err)
	assert.Equal(t, model.ScopedTo{Username: "alice"}, issued.Key.Scope)

	ghost := "ghost"
	_, err = e.keys.Issue(e.ctx, "ghost", &ghost)
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)

	secret, err := auth.ParseSecret(issued.Secret)
	require.NoError(t, err)

	sealer, _ := auth.NewSealer(testSealKey)
	v := auth.NewVerifier(e.store, sealer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req, err := v.Authenticate(e.ctx, auth.EncodeBody(secret, []byte(`{"member":"alice"}`)))
	require.NoError(t, err)
	assert.Equal(t, issued.Key.ID, req.Principal.KeyID)
	assert.True(t, req.Principal.CanActFor("alice"))
	assert.False(t, req.Principal.CanActFor("bob"))

	keys, err := e.keys.List(e.ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, e.keys.Revoke(e.ctx, issued.Key.ID))
	_, err = v.Authenticate(e.ctx, auth.EncodeBody(secret, []byte(`{}`)))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.ErrorIs(t, e.keys.Revoke(e.ctx, issued.Key.ID), ledger.ErrAPIKeyNotFound)
}
