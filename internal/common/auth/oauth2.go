package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	apperrors "subsidy-esign/internal/common/errors"
)

// ClientCredentials fetches app-only tokens, used for Microsoft Graph.
type ClientCredentials struct {
	service    string
	config     clientcredentials.Config
	httpClient *http.Client
}

func NewClientCredentials(service, tokenURL, clientID, clientSecret string, scopes []string, httpClient *http.Client) *ClientCredentials {
	return &ClientCredentials{
		service: service,
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (c *ClientCredentials) FetchToken(ctx context.Context) (*Token, error) {
	tok, err := c.config.Token(withHTTPClient(ctx, c.httpClient))
	if err != nil {
		return nil, oauthError(c.service, err)
	}
	return fromOAuth2(tok), nil
}

// RefreshTokenGrant redeems a long-lived refresh token, used for Dropbox Sign
// OAuth apps. Rotated refresh tokens replace the configured one.
type RefreshTokenGrant struct {
	service    string
	config     oauth2.Config
	httpClient *http.Client

	mu           sync.Mutex
	refreshToken string
}

func NewRefreshTokenGrant(service, tokenURL, clientID, clientSecret, refreshToken string, httpClient *http.Client) *RefreshTokenGrant {
	return &RefreshTokenGrant{
		service: service,
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		httpClient:   httpClient,
		refreshToken: refreshToken,
	}
}

func (g *RefreshTokenGrant) FetchToken(ctx context.Context) (*Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.config.TokenSource(withHTTPClient(ctx, g.httpClient), &oauth2.Token{RefreshToken: g.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, oauthError(g.service, err)
	}
	if tok.RefreshToken != "" {
		g.refreshToken = tok.RefreshToken
	}
	return fromOAuth2(tok), nil
}

func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func fromOAuth2(tok *oauth2.Token) *Token {
	return &Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType, ExpiresAt: tok.Expiry}
}

func oauthError(service string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return apperrors.NewAuthError(service, re.Response.StatusCode, string(re.Body), err)
	}
	return apperrors.NewAuthError(service, 0, "", err)
}
