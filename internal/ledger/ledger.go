// Package ledger defines the storage contract for members, transfers,
// assignments and API keys.
//
// Writes happen only inside Store.InTx, which serializes transactions so that
// two reconciliations can never claim the same transfer or member period.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/duesledger/duesledger/internal/model"
)

// Common errors returned by ledger implementations.
var (
	ErrMemberNotFound   = errors.New("member not found")
	ErrMemberExists     = errors.New("member already exists")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrPeriodTaken      = errors.New("period already assigned to member")
	ErrAPIKeyNotFound   = errors.New("API key not found")
)

// MemberFilter narrows ListMembers.
type MemberFilter struct {
	// ActiveOnly returns only active members.
	ActiveOnly bool
}

// Reader is the read side of the ledger.
type Reader interface {
	// GetMember loads a member with its assignments (and their transfers).
	GetMember(ctx context.Context, username string) (*model.Member, error)

	// ListMembers loads members ordered by username, assignments included.
	ListMembers(ctx context.Context, filter MemberFilter) ([]*model.Member, error)

	// GetTransfer retrieves a transfer by uid.
	GetTransfer(ctx context.Context, uid string) (*model.Transfer, error)

	// ListUnassignedTransfers returns incoming (amount > 0) transfers
	// referenced by no assignment, oldest first.
	ListUnassignedTransfers(ctx context.Context) ([]*model.Transfer, error)

	// PeriodShares returns every assignment for the period along with the
	// amount and reference count of its transfer.
	PeriodShares(ctx context.Context, p model.Period) ([]model.PeriodShare, error)

	// LatestTransferDate returns the date of the newest transfer.
	// ok is false when no transfers exist.
	LatestTransferDate(ctx context.Context) (date time.Time, ok bool, err error)

	// ListActiveAPIKeys returns non-revoked keys ordered by creation.
	ListActiveAPIKeys(ctx context.Context) ([]*model.APIKey, error)

	// GetAPIKey retrieves a key by ID, revoked or not.
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
}

// Writer is available inside a transaction.
type Writer interface {
	Reader

	CreateMember(ctx context.Context, m *model.Member) error
	SetMemberActive(ctx context.Context, username string, active bool) error
	AddMemberAccount(ctx context.Context, username, account string) error

	// InsertTransfers stores transfers, skipping uids that already exist.
	// It returns how many were new.
	InsertTransfers(ctx context.Context, transfers []*model.Transfer) (int, error)

	// CreateAssignment stores one MemberTransfer. It returns ErrPeriodTaken if
	// the member already has the period.
	CreateAssignment(ctx context.Context, mt *model.MemberTransfer) error

	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store is a ledger backend.
type Store interface {
	Reader

	// InTx runs fn in a serialized transaction. If fn returns an error
	// nothing it wrote is kept.
	InTx(ctx context.Context, fn func(w Writer) error) error

	Ping(ctx context.Context) error
	Close()
}
