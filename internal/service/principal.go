package service

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrAuthRequired means the caller has no usable bearer credential.
var ErrAuthRequired = errors.New("authentication required")

// Principal is the authenticated X user a request or job acts for.
type Principal struct {
	UserID string
	// Credentials yields the bearer token; an oauth2 token source refreshes it when it expires.
	Credentials oauth2.TokenSource
}

// NewStaticPrincipal wraps a bare access token, as the CLI receives it.
func NewStaticPrincipal(userID, accessToken string) Principal {
	return Principal{
		UserID:      userID,
		Credentials: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	}
}

// Token returns a current access token.
func (p Principal) Token() (string, error) {
	if p.Credentials == nil {
		return "", ErrAuthRequired
	}
	tok, err := p.Credentials.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrAuthRequired
	}
	return tok.AccessToken, nil
}
