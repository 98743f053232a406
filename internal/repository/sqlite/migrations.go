package sqlite

import (
	"context"
	"database/sql"
)

// schema sets up the ledger tables. It runs on every start.
// Members must be created before the tables that reference them.
const schema = `
CREATE TABLE IF NOT EXISTS members (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    tier TEXT NOT NULL CHECK (tier IN ('normal', 'starving', 'fatty')),
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS member_accounts (
    member_id TEXT NOT NULL,
    account TEXT NOT NULL,
    PRIMARY KEY (member_id, account),
    FOREIGN KEY (member_id) REFERENCES members(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transfers (
    uid TEXT PRIMARY KEY,
    amount INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    account_from TEXT NOT NULL DEFAULT '',
    name_from TEXT NOT NULL DEFAULT '',
    date INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS member_transfers (
    id TEXT PRIMARY KEY,
    member_id TEXT NOT NULL,
    transfer_uid TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
    created_at INTEGER NOT NULL,
    UNIQUE (member_id, year, month),
    FOREIGN KEY (member_id) REFERENCES members(id) ON DELETE CASCADE,
    FOREIGN KEY (transfer_uid) REFERENCES transfers(uid)
);

CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    secret BLOB NOT NULL,
    member_id TEXT,
    revoked_at INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (member_id) REFERENCES members(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transfers_date ON transfers(date);
CREATE INDEX IF NOT EXISTS idx_member_transfers_transfer ON member_transfers(transfer_uid);
CREATE INDEX IF NOT EXISTS idx_member_transfers_period ON member_transfers(year, month);
`

// runMigrations executes the schema setup.
func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
