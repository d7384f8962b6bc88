package auth

import (
	"context"
	"fmt"

	"github.com/timmy/tweetpurge/internal/config"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://x.com/i/oauth2/authorize"
	defaultTokenURL = "https://api.x.com/2/oauth2/token"
)

// DefaultScopes cover reading the timeline, posting, deleting and refreshing.
var DefaultScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// Provider runs the OAuth2 authorization code flow with PKCE against X.
type Provider struct {
	cfg *oauth2.Config
}

// NewProvider creates a Provider from the X client registration.
func NewProvider(c *config.XConfig) *Provider {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	// public clients send client_id in the form, confidential ones use basic auth
	style := oauth2.AuthStyleInParams
	if c.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}

	return &Provider{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: style,
			},
		},
	}
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// NewState returns a random state value for CSRF protection.
func NewState() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL builds the authorize redirect carrying state and the S256 challenge for verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for a token.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := p.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

// TokenSource returns a source that refreshes tok when it expires.
// The source outlives any request, so it is bound to the background context.
func (p *Provider) TokenSource(tok *oauth2.Token) oauth2.TokenSource {
	return p.cfg.TokenSource(context.Background(), tok)
}
