package providers

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"google.golang.org/api/option"
)

var _ AuthProvider = &FirebaseAuthProvider{}

// FirebaseAuthProvider verifies Firebase ID tokens.
type FirebaseAuthProvider struct {
	auth *auth.Client
}

type NewFirebaseAuthProviderOptions struct {
	ProjectID string
	// APIKey is used when no credentials file is given
	APIKey string
	// CredentialsFile is a service account key file
	CredentialsFile string
}

// NewFirebaseAuthProvider creates a new FirebaseAuthProvider
func NewFirebaseAuthProvider(ctx context.Context, opts NewFirebaseAuthProviderOptions) (*FirebaseAuthProvider, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}

	var clientOpt option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpt = option.WithCredentialsFile(opts.CredentialsFile)
	case opts.APIKey != "":
		clientOpt = option.WithAPIKey(opts.APIKey)
	default:
		return nil, fmt.Errorf("firebase api key or credentials file is required")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: opts.ProjectID}, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("error initializing app: %v", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Auth client: %v", err)
	}

	return &FirebaseAuthProvider{
		auth: client,
	}, nil
}

// VerifyToken verifies a Firebase ID token
func (p *FirebaseAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	if idToken == "" {
		return nil, ErrInvalidToken
	}
	token, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("error verifying token: %w: %v", ErrInvalidToken, err)
	}

	return &TokenClaims{
		UID: token.UID,
	}, nil
}
