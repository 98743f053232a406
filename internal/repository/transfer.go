package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

const transferColumns = `uid, amount, title, account_from, name_from, date`

// InsertTransfers stores transfers, ignoring uids already present.
func (w *writer) InsertTransfers(ctx context.Context, transfers []*model.Transfer) (int, error) {
	query := `
		INSERT INTO transfers (uid, amount, title, account_from, name_from, date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO NOTHING
	`

	inserted := 0
	for _, t := range transfers {
		result, err := w.q.Exec(ctx, query,
			t.UID,
			t.Amount,
			t.Title,
			t.AccountFrom,
			t.NameFrom,
			t.Date,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert transfer %s: %w", t.UID, err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// CreateAssignment inserts a MemberTransfer.
func (w *writer) CreateAssignment(ctx context.Context, mt *model.MemberTransfer) error {
	if mt.Transfer == nil {
		return ledger.ErrTransferNotFound
	}

	query := `
		INSERT INTO member_transfers (id, member_id, transfer_uid, year, month, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := w.q.Exec(ctx, query,
		mt.ID,
		mt.MemberID,
		mt.Transfer.UID,
		mt.Period.Year,
		mt.Period.Month,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err, "member_transfers_member_period_key") {
			return ledger.ErrPeriodTaken
		}
		if isForeignKeyViolation(err) {
			return ledger.ErrTransferNotFound
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	return nil
}

// GetTransfer retrieves a transfer by uid.
func (r *reader) GetTransfer(ctx context.Context, uid string) (*model.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE uid = $1`

	t, err := scanTransfer(r.q.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

// ListUnassignedTransfers returns incoming transfers no assignment references.
func (r *reader) ListUnassignedTransfers(ctx context.Context) ([]*model.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers t
		WHERE t.amount > 0
		  AND NOT EXISTS (SELECT 1 FROM member_transfers mt WHERE mt.transfer_uid = t.uid)
		ORDER BY date, uid
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned transfers: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}
	return transfers, nil
}

// PeriodShares returns the transfers paying for a period with their reference counts.
func (r *reader) PeriodShares(ctx context.Context, p model.Period) ([]model.PeriodShare, error) {
	query := `
		SELECT t.uid, t.amount,
		       (SELECT count(*) FROM member_transfers r WHERE r.transfer_uid = t.uid)
		FROM member_transfers mt
		JOIN transfers t ON t.uid = mt.transfer_uid
		WHERE mt.year = $1 AND mt.month = $2
		ORDER BY mt.id
	`

	rows, err := r.q.Query(ctx, query, p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to query period shares: %w", err)
	}
	defer rows.Close()

	var shares []model.PeriodShare
	for rows.Next() {
		var s model.PeriodShare
		var refs int64
		if err := rows.Scan(&s.TransferUID, &s.Amount, &refs); err != nil {
			return nil, fmt.Errorf("failed to scan period share: %w", err)
		}
		s.Refs = int(refs)
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period shares: %w", err)
	}
	return shares, nil
}

// LatestTransferDate returns the date of the newest transfer.
func (r *reader) LatestTransferDate(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	if err := r.q.QueryRow(ctx, `SELECT max(date) FROM transfers`).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest transfer date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

// scanTransfer scans a single row into a Transfer model.
func scanTransfer(row pgx.Row) (*model.Transfer, error) {
	var t model.Transfer
	if err := row.Scan(
		&t.UID,
		&t.Amount,
		&t.Title,
		&t.AccountFrom,
		&t.NameFrom,
		&t.Date,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
