package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer is an httptest server answering Helix (under /helix) and
// the OAuth token endpoint with canned data. Unregistered paths return 404.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	patches  []map[string]string
	requests map[string]int
}

// NewMockTwitchServer starts a mock closed at test cleanup.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		routes:   make(map[string]http.HandlerFunc),
		requests: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		h, ok := m.routes[r.URL.Path]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) route(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.routes[path] = h
	m.mu.Unlock()
}

// data registers a GET handler answering {"data": items}.
func (m *MockTwitchServer) data(path string, items any) {
	m.route(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": items})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUser answers /helix/users with one user.
func (m *MockTwitchServer) MockUser(userID, login string) {
	m.data("/helix/users", []map[string]string{{"id": userID, "login": login, "display_name": login}})
}

// MockChannel answers GET /helix/channels with the channel info. PATCH
// bodies are recorded and answered with 204 like Helix does.
func (m *MockTwitchServer) MockChannel(broadcasterID, title, gameName string) {
	m.route("/helix/channels", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock request
			m.mu.Lock()
			m.patches = append(m.patches, body)
			m.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]string{
			{"broadcaster_id": broadcasterID, "title": title, "game_name": gameName},
		}})
	})
}

// MockCategories answers /helix/search/categories.
func (m *MockTwitchServer) MockCategories(categories ...map[string]string) {
	m.data("/helix/search/categories", categories)
}

// MockStream answers /helix/streams. A zero viewers value with an empty
// startedAt means offline.
func (m *MockTwitchServer) MockStream(viewers int, startedAt time.Time) {
	if startedAt.IsZero() {
		m.data("/helix/streams", []any{})
		return
	}
	m.data("/helix/streams", []map[string]any{{"id": "1", "viewer_count": viewers, "started_at": startedAt.UTC().Format(time.RFC3339)}})
}

// MockFollower answers /helix/channels/followers for any user with followedAt.
func (m *MockTwitchServer) MockFollower(userID string, followedAt time.Time) {
	m.data("/helix/channels/followers", []map[string]string{{"user_id": userID, "followed_at": followedAt.UTC().Format(time.RFC3339)}})
}

// MockSubscription answers /helix/subscriptions; an empty tier answers 404,
// which Helix uses for "not subscribed".
func (m *MockTwitchServer) MockSubscription(userID, tier string) {
	if tier == "" {
		m.route("/helix/subscriptions", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		return
	}
	m.data("/helix/subscriptions", []map[string]any{{"user_id": userID, "tier": tier}})
}

// MockOAuthToken answers the token endpoint with a bearer token.
func (m *MockTwitchServer) MockOAuthToken(accessToken string, expiresIn int) {
	m.route("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"access_token": accessToken, "expires_in": expiresIn, "token_type": "bearer"})
	})
}

// PatchBodies returns the channel update bodies received so far.
func (m *MockTwitchServer) PatchBodies() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.patches...)
}

// Requests reports how many requests path has received.
func (m *MockTwitchServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}
