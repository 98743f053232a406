package model

import "time"

// Scope limits what an API key may act on. It is either Unscoped or
// ScopedTo a single member.
type Scope interface {
	isScope()
}

// Unscoped keys may act on any member and call administrative methods.
type Unscoped struct{}

// ScopedTo keys may only read data of the named member.
type ScopedTo struct {
	Username string
}

func (Unscoped) isScope() {}
func (ScopedTo) isScope() {}

// ScopeOf builds the scope from a nullable member username.
func ScopeOf(username *string) Scope {
	if username == nil || *username == "" {
		return Unscoped{}
	}
	return ScopedTo{Username: *username}
}

// ScopeMember returns the username a scope is bound to, or nil for Unscoped.
func ScopeMember(s Scope) *string {
	if st, ok := s.(ScopedTo); ok {
		u := st.Username
		return &u
	}
	return nil
}

// APIKey is a shared HMAC secret for the private API.
type APIKey struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	SealedSecret []byte     `json:"-"` // Never serialize
	Scope        Scope      `json:"-"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// APIKeyResponse represents an API key without its secret.
type APIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Member    *string   `json:"member"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// ToResponse converts an APIKey to APIKeyResponse.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Member:    ScopeMember(k.Scope),
		CreatedAt: k.CreatedAt,
		Revoked:   k.IsRevoked(),
	}
}
