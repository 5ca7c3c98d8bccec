package providers

import (
	"context"
	"crypto/subtle"
	"fmt"
)

var _ AuthProvider = &StaticTokenAuthProvider{}

// StaticTokenAuthProvider accepts a fixed set of tokens. It is meant for
// local development and tests where no identity provider is reachable.
type StaticTokenAuthProvider struct {
	// tokens maps a bearer token to the uid it authenticates
	tokens map[string]string
}

// NewStaticTokenAuthProvider creates a provider from a token to uid map.
func NewStaticTokenAuthProvider(tokens map[string]string) *StaticTokenAuthProvider {
	copied := make(map[string]string, len(tokens))
	for token, uid := range tokens {
		copied[token] = uid
	}
	return &StaticTokenAuthProvider{
		tokens: copied,
	}
}

func (p *StaticTokenAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	if idToken == "" {
		return nil, ErrInvalidToken
	}
	for token, uid := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(idToken)) == 1 {
			return &TokenClaims{UID: uid}, nil
		}
	}
	return nil, fmt.Errorf("error verifying token: %w", ErrInvalidToken)
}
