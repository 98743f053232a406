package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
)

// KeySource provides the keys a Verifier checks against.
type KeySource interface {
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	ListActiveAPIKeys(ctx context.Context) ([]*model.APIKey, error)
}

// Request is an authenticated private API call.
type Request struct {
	Principal Principal
	Params    Params
}

// Verifier authenticates private API request bodies.
type Verifier struct {
	keys   KeySource
	sealer *Sealer
	logger *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(keys KeySource, sealer *Sealer, logger *slog.Logger) *Verifier {
	return &Verifier{keys: keys, sealer: sealer, logger: logger}
}

// Authenticate decodes body, finds the key whose MAC matches and parses the
// payload. It returns ErrMalformedBody, ErrUnauthorized or
// ErrMalformedPayload for client errors.
//
// When the payload names a key_id only that key is tried. Otherwise every
// active key is tried in creation order and the first match wins.
func (v *Verifier) Authenticate(ctx context.Context, body []byte) (*Request, error) {
	payload, mac, err := DecodeBody(body)
	if err != nil {
		return nil, err
	}

	candidates, err := v.candidates(ctx, peekKeyID(payload))
	if err != nil {
		return nil, err
	}

	var matched *model.APIKey
	for _, key := range candidates {
		secret, err := v.sealer.Open(key.SealedSecret)
		if err != nil {
			v.logger.Warn("failed to unseal API key", "key_id", key.ID, "error", err)
			continue
		}
		if Verify(secret, payload, mac) {
			matched = key
			break
		}
	}
	if matched == nil {
		return nil, ErrUnauthorized
	}

	params, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}
	delete(params, KeyIDField)

	return &Request{
		Principal: Principal{KeyID: matched.ID, Scope: matched.Scope},
		Params:    params,
	}, nil
}

func (v *Verifier) candidates(ctx context.Context, keyID string) ([]*model.APIKey, error) {
	if keyID == "" {
		keys, err := v.keys.ListActiveAPIKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("list API keys: %w", err)
		}
		return keys, nil
	}

	key, err := v.keys.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ledger.ErrAPIKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get API key: %w", err)
	}
	if key.IsRevoked() {
		return nil, nil
	}
	return []*model.APIKey{key}, nil
}
