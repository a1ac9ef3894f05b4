package secrets

import (
	"context"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// KeyJWTSecret names the HS256 signing secret
const KeyJWTSecret = "jwt_secret"

// JWTSecret resolves the signing secret, preferring m over fallback
func JWTSecret(ctx context.Context, m Manager, fallback string) string {
	if m == nil {
		return fallback
	}
	return m.GetSecretWithDefault(ctx, KeyJWTSecret, fallback)
}

// Error represents a secrets management error
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}

// Common errors
const (
	ErrSecretNotFound = Error("secret not found")
	ErrNoVaultToken   = Error("no vault token provided")
	ErrNoVaultAddress = Error("no vault address provided")
)
