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

const apiKeySelect = `
	SELECT k.id, k.name, k.secret, m.username, k.revoked_at, k.created_at
	FROM api_keys k
	LEFT JOIN members m ON m.id = k.member_id
`

// CreateAPIKey inserts a new API key. A key scoped to an unknown member is
// rejected with ledger.ErrMemberNotFound.
func (w *writer) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	var memberID *string
	if username := model.ScopeMember(key.Scope); username != nil {
		var id string
		err := w.q.QueryRow(ctx, `SELECT id FROM members WHERE username = $1`, *username).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ledger.ErrMemberNotFound
			}
			return fmt.Errorf("failed to resolve key member: %w", err)
		}
		memberID = &id
	}

	query := `
		INSERT INTO api_keys (id, name, secret, member_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := w.q.Exec(ctx, query,
		key.ID,
		key.Name,
		key.SealedSecret,
		memberID,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// RevokeAPIKey revokes an API key by setting revoked_at.
func (w *writer) RevokeAPIKey(ctx context.Context, id string) error {
	query := `
		UPDATE api_keys
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := w.q.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ledger.ErrAPIKeyNotFound
	}

	return nil
}

// GetAPIKey retrieves an API key by its ID.
func (r *reader) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := scanAPIKey(r.q.QueryRow(ctx, apiKeySelect+` WHERE k.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return key, nil
}

// ListActiveAPIKeys retrieves all non-revoked keys, oldest first.
// Used during authentication when the request names no key.
func (r *reader) ListActiveAPIKeys(ctx context.Context) ([]*model.APIKey, error) {
	rows, err := r.q.Query(ctx, apiKeySelect+` WHERE k.revoked_at IS NULL ORDER BY k.created_at, k.id`)
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

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}

// scanAPIKey scans a single row into an APIKey model.
func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var key model.APIKey
	var member *string

	if err := row.Scan(
		&key.ID,
		&key.Name,
		&key.SealedSecret,
		&member,
		&key.RevokedAt,
		&key.CreatedAt,
	); err != nil {
		return nil, err
	}

	key.Scope = model.ScopeOf(member)
	return &key, nil
}
