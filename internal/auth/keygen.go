package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// SecretLen is the number of random bytes in an API key secret.
const SecretLen = 32

// GeneratedKey contains the parts of a newly issued API key.
type GeneratedKey struct {
	ID     string // Public key identifier, sent as key_id
	Secret []byte // Raw secret (show once only)
	Sealed []byte // Encrypted secret for storage
}

// SecretString returns the secret in the base64 form handed to clients.
func (k *GeneratedKey) SecretString() string {
	return base64.StdEncoding.EncodeToString(k.Secret)
}

// GenerateAPIKey creates a new key id and secret, sealed with s.
func GenerateAPIKey(s *Sealer) (*GeneratedKey, error) {
	secret := make([]byte, SecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	sealed, err := s.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	return &GeneratedKey{
		ID:     ulid.Make().String(),
		Secret: secret,
		Sealed: sealed,
	}, nil
}

// ParseSecret decodes a base64 secret as printed by SecretString.
func ParseSecret(s string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return secret, nil
}
