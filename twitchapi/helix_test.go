package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticTokens struct {
	tok         string
	invalidated atomic.Int32
}

func (s *staticTokens) Get(context.Context) (string, error) { return s.tok, nil }
func (s *staticTokens) Invalidate()                        { s.invalidated.Add(1) }

func newTestClient(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &HelixClient{
		AppTokenSource:  &staticTokens{tok: "app-token"},
		UserTokenSource: &staticTokens{tok: "user-token"},
		ClientID:        "test-client-id",
		HTTPClient:      NewHTTPClient(5 * time.Second),
		BaseURL:         server.URL + "/helix",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "12345", "login": "testuser"},
				},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:  "user not found",
			login: "nonexistent",
			response: map[string]interface{}{
				"data": []map[string]string{},
			},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "server error",
			login:       "testuser",
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "status 500",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/helix/users" {
					t.Errorf("path = %s, want /helix/users", r.URL.Path)
				}
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer app-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			})

			userID, err := client.GetUserID(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Errorf("GetUserID() error = nil, want error containing %q", tt.errContains)
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_GetChannelInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/channels" || r.URL.Query().Get("broadcaster_id") != "42" {
			t.Errorf("unexpected request %s", r.URL)
		}
		writeJSON(w, map[string]any{"data": []map[string]string{
			{"broadcaster_id": "42", "title": "Speedrun night", "game_id": "1", "game_name": "Celeste"},
		}})
	})
	info, err := client.GetChannelInfo(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetChannelInfo() error = %v", err)
	}
	if info.Title != "Speedrun night" || info.GameName != "Celeste" {
		t.Errorf("GetChannelInfo() = %+v", info)
	}
}

func TestHelixClient_UpdateChannelInfo(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("channel update must use the user token, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.UpdateChannelInfo(context.Background(), "42", ChannelUpdate{Title: "new title"}); err != nil {
		t.Fatalf("UpdateChannelInfo() error = %v", err)
	}
	if gotBody["title"] != "new title" {
		t.Errorf("body title = %q", gotBody["title"])
	}
	if _, ok := gotBody["game_id"]; ok {
		t.Errorf("empty game_id must be omitted")
	}

	if err := client.UpdateChannelInfo(context.Background(), "42", ChannelUpdate{}); err == nil {
		t.Errorf("expected error for empty update")
	}

	client.UserTokenSource = nil
	if err := client.UpdateChannelInfo(context.Background(), "42", ChannelUpdate{GameID: "1"}); !errors.Is(err, ErrNoUserToken) {
		t.Errorf("error = %v, want ErrNoUserToken", err)
	}
}

func TestHelixClient_UpdateChannelInfoRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"missing scope"}`)
	})
	err := client.UpdateChannelInfo(context.Background(), "42", ChannelUpdate{Title: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("error = %v, want APIError 403", err)
	}
}

func TestHelixClient_RetriesOnceAfterUnauthorized(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]any{}})
	})
	stream, err := client.GetStream(context.Background(), "somechannel")
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	if stream != nil {
		t.Errorf("offline channel should yield nil stream, got %+v", stream)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if n := client.AppTokenSource.(*staticTokens).invalidated.Load(); n != 1 {
		t.Errorf("invalidated = %d, want 1", n)
	}
}

func TestHelixClient_GetStream(t *testing.T) {
	started := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_login") != "somechannel" {
			t.Errorf("user_login = %q", r.URL.Query().Get("user_login"))
		}
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": "s1", "user_login": "somechannel", "viewer_count": 321, "started_at": started.Format(time.RFC3339)},
		}})
	})
	stream, err := client.GetStream(context.Background(), "somechannel")
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	if stream == nil || stream.ViewerCount != 321 || !stream.StartedAt.Equal(started) {
		t.Errorf("GetStream() = %+v", stream)
	}
}

func TestHelixClient_GetFollowerAndSubscription(t *testing.T) {
	followed := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("%s must use the user token", r.URL.Path)
		}
		switch {
		case r.URL.Path == "/helix/channels/followers" && r.URL.Query().Get("user_id") == "7":
			writeJSON(w, map[string]any{"data": []map[string]any{{"user_id": "7", "followed_at": followed.Format(time.RFC3339)}}})
		case r.URL.Path == "/helix/channels/followers":
			writeJSON(w, map[string]any{"data": []any{}})
		case r.URL.Path == "/helix/subscriptions" && r.URL.Query().Get("user_id") == "7":
			writeJSON(w, map[string]any{"data": []map[string]any{{"user_id": "7", "tier": "2000"}}})
		case r.URL.Path == "/helix/subscriptions":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	f, err := client.GetFollower(ctx, "42", "7")
	if err != nil || f == nil || !f.FollowedAt.Equal(followed) {
		t.Errorf("GetFollower() = %+v, %v", f, err)
	}
	f, err = client.GetFollower(ctx, "42", "8")
	if err != nil || f != nil {
		t.Errorf("GetFollower(non follower) = %+v, %v", f, err)
	}

	s, err := client.GetSubscription(ctx, "42", "7")
	if err != nil || s == nil || s.Tier != "2000" {
		t.Errorf("GetSubscription() = %+v, %v", s, err)
	}
	s, err = client.GetSubscription(ctx, "42", "8")
	if err != nil || s != nil {
		t.Errorf("GetSubscription(non sub) = %+v, %v", s, err)
	}
}

func TestHelixClient_SearchCategory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "just chatting":
			writeJSON(w, map[string]any{"data": []map[string]string{
				{"id": "1", "name": "Just Chatting Extra"},
				{"id": "509658", "name": "Just Chatting"},
			}})
		case "celes":
			writeJSON(w, map[string]any{"data": []map[string]string{{"id": "9", "name": "Celeste"}}})
		default:
			writeJSON(w, map[string]any{"data": []any{}})
		}
	})
	ctx := context.Background()

	c, err := client.SearchCategory(ctx, "just chatting")
	if err != nil || c == nil || c.ID != "509658" {
		t.Errorf("exact match: %+v, %v", c, err)
	}
	c, err = client.SearchCategory(ctx, "celes")
	if err != nil || c == nil || c.ID != "9" {
		t.Errorf("first hit: %+v, %v", c, err)
	}
	c, err = client.SearchCategory(ctx, "nothing")
	if err != nil || c != nil {
		t.Errorf("no hit: %+v, %v", c, err)
	}
	if _, err := client.SearchCategory(ctx, "  "); err == nil {
		t.Errorf("expected error for blank name")
	}
}

func TestHelixClient_DefaultBaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			t.Errorf("path = %s, want /helix/users", r.URL.Path)
		}
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": "1", "login": "a"}}})
	}))
	defer server.Close()

	client := &HelixClient{
		AppTokenSource: &staticTokens{tok: "t"},
		ClientID:       "id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL},
		},
	}
	if _, err := client.GetUserID(context.Background(), "a"); err != nil {
		t.Fatalf("GetUserID() error = %v", err)
	}
}

// rewriteTransport redirects requests aimed at the real Twitch hosts to a
// local test server.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
