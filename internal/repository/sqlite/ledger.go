package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

// CreateMember inserts a member and its accounts.
func (w *writer) CreateMember(ctx context.Context, m *model.Member) error {
	_, err := w.q.ExecContext(ctx,
		"INSERT INTO members (id, username, tier, active, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.Username, string(m.Tier), m.Active, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrMemberExists
		}
		return fmt.Errorf("failed to insert member: %w", err)
	}

	for _, account := range m.Accounts {
		if err := w.insertAccount(ctx, m.ID, account); err != nil {
			return err
		}
	}
	return nil
}

// SetMemberActive toggles the active flag.
func (w *writer) SetMemberActive(ctx context.Context, username string, active bool) error {
	res, err := w.q.ExecContext(ctx, "UPDATE members SET active = ? WHERE username = ?", active, username)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrMemberNotFound
	}
	return nil
}

// AddMemberAccount registers a source account for the member.
func (w *writer) AddMemberAccount(ctx context.Context, username, account string) error {
	var id string
	err := w.q.QueryRowContext(ctx, "SELECT id FROM members WHERE username = ?", username).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrMemberNotFound
		}
		return fmt.Errorf("failed to find member: %w", err)
	}
	return w.insertAccount(ctx, id, account)
}

func (w *writer) insertAccount(ctx context.Context, memberID, account string) error {
	norm := model.NormalizeAccount(account)
	if norm == "" {
		return nil
	}
	_, err := w.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO member_accounts (member_id, account) VALUES (?, ?)",
		memberID, norm,
	)
	if err != nil {
		return fmt.Errorf("failed to insert member account: %w", err)
	}
	return nil
}

// InsertTransfers stores transfers, ignoring uids already present.
func (w *writer) InsertTransfers(ctx context.Context, transfers []*model.Transfer) (int, error) {
	inserted := 0
	for _, t := range transfers {
		res, err := w.q.ExecContext(ctx,
			`INSERT INTO transfers (uid, amount, title, account_from, name_from, date)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (uid) DO NOTHING`,
			t.UID, t.Amount, t.Title, t.AccountFrom, t.NameFrom, t.Date.UnixNano(),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transfer %s: %w", t.UID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// CreateAssignment inserts a MemberTransfer.
func (w *writer) CreateAssignment(ctx context.Context, mt *model.MemberTransfer) error {
	if mt.Transfer == nil {
		return ledger.ErrTransferNotFound
	}
	_, err := w.q.ExecContext(ctx,
		`INSERT INTO member_transfers (id, member_id, transfer_uid, year, month, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		mt.ID, mt.MemberID, mt.Transfer.UID, mt.Period.Year, mt.Period.Month, time.Now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrPeriodTaken
		}
		if isForeignKeyViolation(err) {
			return ledger.ErrTransferNotFound
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// CreateAPIKey inserts an API key.
func (w *writer) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	var memberID sql.NullString
	if username := model.ScopeMember(key.Scope); username != nil {
		err := w.q.QueryRowContext(ctx, "SELECT id FROM members WHERE username = ?", *username).Scan(&memberID.String)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.ErrMemberNotFound
			}
			return fmt.Errorf("failed to resolve key member: %w", err)
		}
		memberID.Valid = true
	}

	_, err := w.q.ExecContext(ctx,
		"INSERT INTO api_keys (id, name, secret, member_id, created_at) VALUES (?, ?, ?, ?, ?)",
		key.ID, key.Name, key.SealedSecret, memberID, key.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked.
func (w *writer) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := w.q.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL",
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrAPIKeyNotFound
	}
	return nil
}

// GetMember retrieves a member by username.
func (r *reader) GetMember(ctx context.Context, username string) (*model.Member, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, username, tier, active, created_at FROM members WHERE username = ?", username)
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	members, err := r.collectMembers(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ledger.ErrMemberNotFound
	}
	return members[0], nil
}

// ListMembers retrieves members ordered by username.
func (r *reader) ListMembers(ctx context.Context, filter ledger.MemberFilter) ([]*model.Member, error) {
	query := "SELECT id, username, tier, active, created_at FROM members"
	if filter.ActiveOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY username"

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return r.collectMembers(ctx, rows)
}

// collectMembers scans member rows, then loads accounts and assignments.
func (r *reader) collectMembers(ctx context.Context, rows *sql.Rows) ([]*model.Member, error) {
	var members []*model.Member
	byID := make(map[string]*model.Member)

	for rows.Next() {
		var m model.Member
		var tier string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Username, &tier, &m.Active, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Tier = model.Tier(tier)
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		members = append(members, &m)
		byID[m.ID] = &m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	rows.Close()

	if len(members) == 0 {
		return members, nil
	}

	ids := make([]any, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	in := placeholders(len(ids))

	accRows, err := r.q.QueryContext(ctx,
		"SELECT member_id, account FROM member_accounts WHERE member_id IN ("+in+") ORDER BY account", ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query member accounts: %w", err)
	}
	for accRows.Next() {
		var memberID, account string
		if err := accRows.Scan(&memberID, &account); err != nil {
			accRows.Close()
			return nil, fmt.Errorf("failed to scan member account: %w", err)
		}
		byID[memberID].Accounts = append(byID[memberID].Accounts, account)
	}
	accRows.Close()

	mtRows, err := r.q.QueryContext(ctx,
		`SELECT mt.id, mt.member_id, mt.year, mt.month,
		        t.uid, t.amount, t.title, t.account_from, t.name_from, t.date,
		        (SELECT count(*) FROM member_transfers r WHERE r.transfer_uid = t.uid)
		 FROM member_transfers mt
		 JOIN transfers t ON t.uid = mt.transfer_uid
		 WHERE mt.member_id IN (`+in+`)
		 ORDER BY mt.year, mt.month`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer mtRows.Close()

	for mtRows.Next() {
		var mt model.MemberTransfer
		var t model.Transfer
		var date int64
		if err := mtRows.Scan(
			&mt.ID, &mt.MemberID, &mt.Period.Year, &mt.Period.Month,
			&t.UID, &t.Amount, &t.Title, &t.AccountFrom, &t.NameFrom, &date,
			&mt.Refs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		t.Date = time.Unix(0, date).UTC()
		mt.Transfer = &t
		m := byID[mt.MemberID]
		m.Assignments = append(m.Assignments, mt)
	}
	if err := mtRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return members, nil
}

// GetTransfer retrieves a transfer by uid.
func (r *reader) GetTransfer(ctx context.Context, uid string) (*model.Transfer, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT uid, amount, title, account_from, name_from, date FROM transfers WHERE uid = ?", uid)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListUnassignedTransfers returns incoming transfers no assignment references.
func (r *reader) ListUnassignedTransfers(ctx context.Context) ([]*model.Transfer, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT uid, amount, title, account_from, name_from, date
		 FROM transfers t
		 WHERE t.amount > 0
		   AND NOT EXISTS (SELECT 1 FROM member_transfers mt WHERE mt.transfer_uid = t.uid)
		 ORDER BY date, uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*model.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// PeriodShares returns the transfers paying for a period with their reference counts.
func (r *reader) PeriodShares(ctx context.Context, p model.Period) ([]model.PeriodShare, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT t.uid, t.amount,
		        (SELECT count(*) FROM member_transfers r WHERE r.transfer_uid = t.uid)
		 FROM member_transfers mt
		 JOIN transfers t ON t.uid = mt.transfer_uid
		 WHERE mt.year = ? AND mt.month = ?
		 ORDER BY mt.id`, p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to query period shares: %w", err)
	}
	defer rows.Close()

	var shares []model.PeriodShare
	for rows.Next() {
		var s model.PeriodShare
		if err := rows.Scan(&s.TransferUID, &s.Amount, &s.Refs); err != nil {
			return nil, fmt.Errorf("failed to scan period share: %w", err)
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// LatestTransferDate returns the date of the newest transfer.
func (r *reader) LatestTransferDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullInt64
	if err := r.q.QueryRowContext(ctx, "SELECT max(date) FROM transfers").Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest transfer: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, latest.Int64).UTC(), true, nil
}

// GetAPIKey retrieves a key by ID.
func (r *reader) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	row := r.q.QueryRowContext(ctx, apiKeySelect+" WHERE k.id = ?", id)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return key, nil
}

// ListActiveAPIKeys returns non-revoked keys, oldest first.
func (r *reader) ListActiveAPIKeys(ctx context.Context) ([]*model.APIKey, error) {
	rows, err := r.q.QueryContext(ctx, apiKeySelect+" WHERE k.revoked_at IS NULL ORDER BY k.created_at, k.id")
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

const apiKeySelect = `SELECT k.id, k.name, k.secret, m.username, k.revoked_at, k.created_at
	FROM api_keys k LEFT JOIN members m ON m.id = k.member_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row scanner) (*model.Transfer, error) {
	var t model.Transfer
	var date int64
	if err := row.Scan(&t.UID, &t.Amount, &t.Title, &t.AccountFrom, &t.NameFrom, &date); err != nil {
		return nil, err
	}
	t.Date = time.Unix(0, date).UTC()
	return &t, nil
}

func scanAPIKey(row scanner) (*model.APIKey, error) {
	var key model.APIKey
	var member sql.NullString
	var revokedAt sql.NullInt64
	var createdAt int64

	if err := row.Scan(&key.ID, &key.Name, &key.SealedSecret, &member, &revokedAt, &createdAt); err != nil {
		return nil, err
	}

	if member.Valid {
		key.Scope = model.ScopedTo{Username: member.String}
	} else {
		key.Scope = model.Unscoped{}
	}
	if revokedAt.Valid {
		t := time.Unix(0, revokedAt.Int64).UTC()
		key.RevokedAt = &t
	}
	key.CreatedAt = time.Unix(0, createdAt).UTC()
	return &key, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
