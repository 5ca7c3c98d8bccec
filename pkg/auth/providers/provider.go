package providers

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a token is missing, malformed or rejected.
var ErrInvalidToken = errors.New("invalid token")

type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

type TokenClaims struct {
	UID string `json:"uid"`
}
