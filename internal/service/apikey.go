package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

// IssuedKey is a newly created key with its secret. The secret is not
// retrievable later.
type IssuedKey struct {
	Key    *model.APIKey
	Secret string
}

// APIKeyService issues and revokes private API keys.
type APIKeyService struct {
	store  ledger.Store
	sealer *auth.Sealer
	logger *slog.Logger
	now    Clock
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(store ledger.Store, sealer *auth.Sealer, logger *slog.Logger, now Clock) *APIKeyService {
	if now == nil {
		now = time.Now
	}
	return &APIKeyService{store: store, sealer: sealer, logger: logger, now: now}
}

// Issue creates a key. A nil member issues an unscoped key.
func (s *APIKeyService) Issue(ctx context.Context, name string, member *string) (*IssuedKey, error) {
	gen, err := auth.GenerateAPIKey(s.sealer)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	key := &model.APIKey{
		ID:           gen.ID,
		Name:         name,
		SealedSecret: gen.Sealed,
		Scope:        model.ScopeOf(member),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InTx(ctx, func(w ledger.Writer) error {
		return w.CreateAPIKey(ctx, key)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("API key issued", slog.String("key_id", key.ID), slog.Bool("scoped", member != nil))
	return &IssuedKey{Key: key, Secret: gen.SecretString()}, nil
}

// Revoke disables a key.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	if err := s.store.InTx(ctx, func(w ledger.Writer) error {
		return w.RevokeAPIKey(ctx, id)
	}); err != nil {
		return err
	}
	s.logger.Info("API key revoked", slog.String("key_id", id))
	return nil
}

// List returns active keys.
func (s *APIKeyService) List(ctx context.Context) ([]*model.APIKey, error) {
	return s.store.ListActiveAPIKeys(ctx)
}
