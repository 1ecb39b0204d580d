// Package twitchapi contains minimal helpers to interact with the Twitch Helix
// API: user, channel, stream, follower, subscription and category lookups,
// plus channel updates with a broadcaster user token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// ErrNoUserToken is returned for calls that need a broadcaster user token when
// none is configured.
var ErrNoUserToken = errors.New("twitch user token not configured")

// APIError is a non-2xx Helix response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.Status, e.Body)
}

// HelixClient performs Helix requests. AppTokenSource authorizes public
// reads; UserTokenSource, when set, authorizes broadcaster-scoped reads
// (followers, subscriptions) and channel updates.
type HelixClient struct {
	AppTokenSource  Tokener
	UserTokenSource Tokener
	ClientID        string
	HTTPClient      *http.Client
	BaseURL         string
}

// NewHTTPClient returns a client whose requests are traced as child spans of
// the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

type invalidator interface{ Invalidate() }

// do sends one request and decodes a JSON body into out (when non-nil). A 401
// invalidates the token and the request is retried once with a fresh one.
func (hc *HelixClient) do(ctx context.Context, tokens Tokener, method, path string, q url.Values, body, out any) error {
	if tokens == nil {
		return ErrNoUserToken
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	for attempt := 0; ; attempt++ {
		tok, err := tokens.Get(ctx)
		if err != nil {
			return err
		}
		u := hc.baseURL() + path
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		retry, err := hc.handle(resp, out)
		if retry && attempt == 0 {
			if inv, ok := tokens.(invalidator); ok {
				inv.Invalidate()
				continue
			}
		}
		return err
	}
}

func (hc *HelixClient) handle(resp *http.Response, out any) (retry bool, err error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode == http.StatusUnauthorized, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	return false, json.NewDecoder(resp.Body).Decode(out)
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUser resolves a login name. A missing user yields (nil, nil).
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, hc.AppTokenSource, http.MethodGet, "/users", url.Values{"login": {login}}, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	u, err := hc.GetUser(ctx, login)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("user not found")
	}
	return u.ID, nil
}

// ChannelInfo is the broadcaster's channel metadata.
type ChannelInfo struct {
	BroadcasterID    string `json:"broadcaster_id"`
	BroadcasterLogin string `json:"broadcaster_login"`
	Title            string `json:"title"`
	GameID           string `json:"game_id"`
	GameName         string `json:"game_name"`
}

// GetChannelInfo returns channel metadata, or (nil, nil) when Helix has none.
func (hc *HelixClient) GetChannelInfo(ctx context.Context, broadcasterID string) (*ChannelInfo, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	var body struct {
		Data []ChannelInfo `json:"data"`
	}
	if err := hc.do(ctx, hc.AppTokenSource, http.MethodGet, "/channels", url.Values{"broadcaster_id": {broadcasterID}}, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// ChannelUpdate holds the modifiable channel fields. Empty fields are omitted.
type ChannelUpdate struct {
	Title  string `json:"title,omitempty"`
	GameID string `json:"game_id,omitempty"`
}

// UpdateChannelInfo patches channel metadata with the user token. Helix
// answers 204 on success.
func (hc *HelixClient) UpdateChannelInfo(ctx context.Context, broadcasterID string, upd ChannelUpdate) error {
	if broadcasterID == "" {
		return fmt.Errorf("broadcasterID empty")
	}
	if upd == (ChannelUpdate{}) {
		return fmt.Errorf("empty channel update")
	}
	return hc.do(ctx, hc.UserTokenSource, http.MethodPatch, "/channels", url.Values{"broadcaster_id": {broadcasterID}}, upd, nil)
}

// Stream is a live stream.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// GetStream returns the live stream for login, or (nil, nil) when offline.
func (hc *HelixClient) GetStream(ctx context.Context, login string) (*Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.do(ctx, hc.AppTokenSource, http.MethodGet, "/streams", url.Values{"user_login": {login}}, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// Follow is a follower relationship.
type Follow struct {
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	FollowedAt time.Time `json:"followed_at"`
}

// GetFollower reports whether userID follows the broadcaster. Not following
// yields (nil, nil). Requires a user token with moderator:read:followers.
func (hc *HelixClient) GetFollower(ctx context.Context, broadcasterID, userID string) (*Follow, error) {
	if broadcasterID == "" || userID == "" {
		return nil, fmt.Errorf("broadcasterID and userID required")
	}
	var body struct {
		Data []Follow `json:"data"`
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	if err := hc.do(ctx, hc.UserTokenSource, http.MethodGet, "/channels/followers", q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// Subscription is a user's subscription to the broadcaster.
type Subscription struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	IsGift bool   `json:"is_gift"`
}

// GetSubscription returns userID's subscription, or (nil, nil) when the user
// is not subscribed. Requires a user token with channel:read:subscriptions.
func (hc *HelixClient) GetSubscription(ctx context.Context, broadcasterID, userID string) (*Subscription, error) {
	if broadcasterID == "" || userID == "" {
		return nil, fmt.Errorf("broadcasterID and userID required")
	}
	var body struct {
		Data []Subscription `json:"data"`
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	err := hc.do(ctx, hc.UserTokenSource, http.MethodGet, "/subscriptions", q, nil, &body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// Category is a game or stream category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SearchCategory finds a category by name, preferring a case-insensitive
// exact match over the first search hit. No hit yields (nil, nil).
func (hc *HelixClient) SearchCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name empty")
	}
	var body struct {
		Data []Category `json:"data"`
	}
	q := url.Values{"query": {name}, "first": {"20"}}
	if err := hc.do(ctx, hc.AppTokenSource, http.MethodGet, "/search/categories", q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	for i := range body.Data {
		if strings.EqualFold(body.Data[i].Name, name) {
			return &body.Data[i], nil
		}
	}
	return &body.Data[0], nil
}
