package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// Tokener yields a bearer token for Helix requests.
type Tokener interface {
	Get(ctx context.Context) (string, error)
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat or broadcaster-scoped endpoints.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	TokenURL     string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	cfg := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL(ts.TokenURL),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(withHTTPClient(ctx, ts.HTTPClient))
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = tok.AccessToken
	ts.expiresAt = tok.Expiry
	if ts.expiresAt.IsZero() {
		ts.expiresAt = ComputeExpiry(0)
	}
	return ts.token, nil
}

// UserTokenSource serves a broadcaster (or bot) user access token and
// refreshes it with the refresh_token grant when it expires or is rejected.
// Rotated refresh tokens are kept in memory only.
type UserTokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	TokenURL     string

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewUserTokenSource seeds the source with an access token (optional) and a
// refresh token (optional). With neither, Get always fails.
func NewUserTokenSource(clientID, clientSecret, accessToken, refreshToken string) *UserTokenSource {
	return &UserTokenSource{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		tok:          &oauth2.Token{AccessToken: StripOAuthPrefix(accessToken), RefreshToken: refreshToken},
	}
}

func (us *UserTokenSource) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     us.ClientID,
		ClientSecret: us.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL(us.TokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Get returns the current access token, refreshing first when it is missing
// or about to expire.
func (us *UserTokenSource) Get(ctx context.Context) (string, error) {
	us.mu.Lock()
	defer us.mu.Unlock()
	if us.tok == nil {
		return "", ErrNoUserToken
	}
	if us.tok.AccessToken != "" && (us.tok.Expiry.IsZero() || time.Until(us.tok.Expiry) > 60*time.Second) {
		return us.tok.AccessToken, nil
	}
	if err := us.refreshLocked(ctx); err != nil {
		return "", err
	}
	return us.tok.AccessToken, nil
}

// Refresh forces a refresh_token exchange and returns a copy of the new token.
func (us *UserTokenSource) Refresh(ctx context.Context) (*oauth2.Token, error) {
	us.mu.Lock()
	defer us.mu.Unlock()
	if err := us.refreshLocked(ctx); err != nil {
		return nil, err
	}
	out := *us.tok
	return &out, nil
}

// Invalidate marks the access token as unusable so the next Get refreshes.
func (us *UserTokenSource) Invalidate() {
	us.mu.Lock()
	if us.tok != nil {
		us.tok.AccessToken = ""
	}
	us.mu.Unlock()
}

func (us *UserTokenSource) refreshLocked(ctx context.Context) error {
	if us.tok == nil || us.tok.RefreshToken == "" {
		return ErrNoUserToken
	}
	if us.ClientID == "" || us.ClientSecret == "" {
		return errors.New("missing client id/secret for twitch token refresh")
	}
	// Passing a token without an access token forces the refresh grant.
	src := us.config().TokenSource(withHTTPClient(ctx, us.HTTPClient), &oauth2.Token{RefreshToken: us.tok.RefreshToken})
	next, err := src.Token()
	if err != nil {
		return err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = us.tok.RefreshToken
	}
	us.tok = next
	return nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// StripOAuthPrefix removes the "oauth:" prefix IRC tokens carry.
func StripOAuthPrefix(tok string) string {
	if len(tok) > 6 && tok[:6] == "oauth:" {
		return tok[6:]
	}
	return tok
}

func tokenURL(u string) string {
	if u == "" {
		return DefaultTokenURL
	}
	return u
}

func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
