// Package service provides the ledger's business operations: reconciliation,
// statistics, member administration and API key management.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Service errors.
var (
	ErrInvalidCount    = errors.New("months must be between 1 and 24")
	ErrInvalidTier     = errors.New("invalid membership tier")
	ErrInvalidUsername = errors.New("invalid username")
	ErrNotIncoming     = errors.New("transfer is not an incoming payment")
)

// MaxMatchMonths caps how many periods one manual match may create.
const MaxMatchMonths = 24

// MemberListPage is the page cache key of the public member list.
const MemberListPage = "members"

// Clock returns the current time.
type Clock func() time.Time

// PageCache stores rendered public pages. Implemented by cache.Cache and
// cache.Nop.
type PageCache interface {
	GetPage(ctx context.Context, key string) ([]byte, error)
	SetPage(ctx context.Context, key string, data []byte) error
	InvalidatePages(ctx context.Context, keys ...string) error
}

func newID() string {
	return ulid.Make().String()
}
