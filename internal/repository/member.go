package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

const memberColumns = `id, username, tier, active, accounts, created_at`

// CreateMember inserts a new member.
func (w *writer) CreateMember(ctx context.Context, m *model.Member) error {
	query := `
		INSERT INTO members (id, username, tier, active, accounts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	accounts := make([]string, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		if n := model.NormalizeAccount(a); n != "" && !slices.Contains(accounts, n) {
			accounts = append(accounts, n)
		}
	}

	_, err := w.q.Exec(ctx, query,
		m.ID,
		m.Username,
		string(m.Tier),
		m.Active,
		pq.Array(accounts),
		m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ledger.ErrMemberExists
		}
		return fmt.Errorf("failed to create member: %w", err)
	}

	return nil
}

// SetMemberActive toggles the active flag.
func (w *writer) SetMemberActive(ctx context.Context, username string, active bool) error {
	result, err := w.q.Exec(ctx, `UPDATE members SET active = $2 WHERE username = $1`, username, active)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ledger.ErrMemberNotFound
	}
	return nil
}

// AddMemberAccount registers a source account number for a member.
// Adding an account twice is a no-op.
func (w *writer) AddMemberAccount(ctx context.Context, username, account string) error {
	query := `
		UPDATE members
		SET accounts = CASE WHEN $2 = ANY(accounts) THEN accounts ELSE array_append(accounts, $2) END
		WHERE username = $1
	`

	result, err := w.q.Exec(ctx, query, username, model.NormalizeAccount(account))
	if err != nil {
		return fmt.Errorf("failed to add member account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ledger.ErrMemberNotFound
	}
	return nil
}

// GetMember retrieves a member by username, with assignments.
func (r *reader) GetMember(ctx context.Context, username string) (*model.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE username = $1`

	m, err := scanMember(r.q.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	if err := r.loadAssignments(ctx, []*model.Member{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers retrieves members ordered by username, with assignments.
func (r *reader) ListMembers(ctx context.Context, filter ledger.MemberFilter) ([]*model.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members`
	if filter.ActiveOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY username`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	if err := r.loadAssignments(ctx, members); err != nil {
		return nil, err
	}
	return members, nil
}

// loadAssignments fills Assignments for the given members in one query.
func (r *reader) loadAssignments(ctx context.Context, members []*model.Member) error {
	if len(members) == 0 {
		return nil
	}

	byID := make(map[string]*model.Member, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	query := `
		SELECT mt.id, mt.member_id, mt.year, mt.month,
		       t.uid, t.amount, t.title, t.account_from, t.name_from, t.date,
		       (SELECT count(*) FROM member_transfers r WHERE r.transfer_uid = t.uid)
		FROM member_transfers mt
		JOIN transfers t ON t.uid = mt.transfer_uid
		WHERE mt.member_id = ANY($1)
		ORDER BY mt.year, mt.month
	`

	rows, err := r.q.Query(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mt model.MemberTransfer
		var t model.Transfer
		var refs int64
		if err := rows.Scan(
			&mt.ID,
			&mt.MemberID,
			&mt.Period.Year,
			&mt.Period.Month,
			&t.UID,
			&t.Amount,
			&t.Title,
			&t.AccountFrom,
			&t.NameFrom,
			&t.Date,
			&refs,
		); err != nil {
			return fmt.Errorf("failed to scan assignment: %w", err)
		}
		mt.Transfer = &t
		mt.Refs = int(refs)
		if m, ok := byID[mt.MemberID]; ok {
			m.Assignments = append(m.Assignments, mt)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating assignments: %w", err)
	}
	return nil
}

// scanMember scans a single row into a Member model.
func scanMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	var tier string
	var accounts []string

	if err := row.Scan(
		&m.ID,
		&m.Username,
		&tier,
		&m.Active,
		pq.Array(&accounts),
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}

	m.Tier = model.Tier(tier)
	m.Accounts = accounts
	return &m, nil
}
