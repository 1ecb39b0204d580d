package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/config"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
	"github.com/onnwee/streambot/backend/store"
	"github.com/onnwee/streambot/backend/telemetry"
)

var testNow = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

type testServer struct {
	handler  http.Handler
	store    *store.Memory
	registry *command.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimitEnabled:  true,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		CORSPermissive:    true,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	telemetry.Init()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewMemory()
	reg := command.NewRegistry(mem)
	err := reg.Register(ctx, model.Command{Name: "perfil", Enabled: true, GlobalCooldown: 5, UserCooldown: 30},
		func(context.Context, *command.Invocation) (string, error) { return "profile", nil })
	if err != nil {
		t.Fatalf("register builtin: %v", err)
	}
	h := NewHandlers(mem, reg)
	h.now = func() time.Time { return testNow }
	return &testServer{
		handler:  newMux(cfg, h, newIPRateLimiter(ctx, rateLimiterConfigFrom(cfg))),
		store:    mem,
		registry: reg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthzOK(t *testing.T) {
	s := newTestServer(t, testConfig())
	for _, path := range []string{"/healthz", "/health"} {
		rr := s.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d, body=%s", path, rr.Code, rr.Body.String())
		}
		if got := rr.Body.String(); got != "ok" {
			t.Fatalf("%s: expected ok body, got %q", path, got)
		}
	}
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr := s.do(t, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["status"] != "online" {
		t.Errorf("unexpected root body: %v", got)
	}
	if rr := s.do(t, http.MethodGet, "/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", rr.Code)
	}
}

// failingStore reports every operation as a persistence failure.
type failingStore struct{ *store.Memory }

var errDown = fmt.Errorf("connection refused: %w", model.ErrPersistence)

func (failingStore) Ping(context.Context) error { return errDown }
func (failingStore) ListParticipants(context.Context, int, int) ([]model.Participant, error) {
	return nil, errDown
}

func TestReadyz(t *testing.T) {
	s := newTestServer(t, testConfig())
	rr := s.do(t, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["status"] != "ready" {
		t.Errorf("status = %q", got["status"])
	}

	h := NewHandlers(failingStore{store.NewMemory()}, s.registry)
	rr = httptest.NewRecorder()
	h.HandleReadyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := decode[map[string]string](t, rr); got["failed_check"] != "store" {
		t.Errorf("failed_check = %q", got["failed_check"])
	}
}

func TestStoreFailureIs503(t *testing.T) {
	h := NewHandlers(failingStore{store.NewMemory()}, nil)
	rr := httptest.NewRecorder()
	h.HandleUsersList(rr, httptest.NewRequest(http.MethodGet, "/users", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Error("internal error details leaked to client")
	}
}

func TestCommandsCRUD(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := s.do(t, http.MethodPost, "/commands", map[string]any{"name": "!Discord", "response": "discord.gg/x", "min_role": "subscriber"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[model.Command](t, rr)
	if created.Name != "discord" || created.Type != model.Custom || created.MinRole != role.Subscriber {
		t.Errorf("unexpected created command: %+v", created)
	}
	if created.GlobalCooldown != command.DefaultGlobalCooldown || created.UserCooldown != command.DefaultUserCooldown || !created.Enabled {
		t.Errorf("defaults not applied: %+v", created)
	}
	if created.CreatedBy != "api" {
		t.Errorf("CreatedBy = %q, want api", created.CreatedBy)
	}

	for _, name := range []string{"DISCORD", "perfil"} {
		rr = s.do(t, http.MethodPost, "/commands", map[string]any{"name": name, "response": "dup"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("duplicate %q: expected 400, got %d", name, rr.Code)
		}
	}
	rr = s.do(t, http.MethodPost, "/commands", `{"name": "broken"`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rr.Code)
	}
	rr = s.do(t, http.MethodPost, "/commands", map[string]any{"name": "noresp"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing response: expected 400, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/commands/Discord", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPatch, "/commands/discord", map[string]any{"response": "discord.gg/y", "enabled": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decode[model.Command](t, rr)
	if updated.Response != "discord.gg/y" || updated.Enabled || updated.MinRole != role.Subscriber {
		t.Errorf("unexpected patched command: %+v", updated)
	}

	rr = s.do(t, http.MethodGet, "/commands?enabled_only=true", nil)
	if got := decode[[]model.Command](t, rr); len(got) != 1 || got[0].Name != "perfil" {
		t.Errorf("enabled_only list = %+v", got)
	}
	rr = s.do(t, http.MethodGet, "/commands", nil)
	if got := decode[[]model.Command](t, rr); len(got) != 2 {
		t.Errorf("full list has %d commands, want 2", len(got))
	}

	rr = s.do(t, http.MethodPatch, "/commands/perfil", map[string]any{"enabled": false})
	if rr.Code != http.StatusForbidden {
		t.Errorf("patch builtin: expected 403, got %d", rr.Code)
	}
	rr = s.do(t, http.MethodDelete, "/commands/perfil", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("delete builtin: expected 403, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodDelete, "/commands/DISCORD", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		if rr := s.do(t, method, "/commands/discord", nil); rr.Code != http.StatusNotFound {
			t.Errorf("%s after delete: expected 404, got %d", method, rr.Code)
		}
	}
	if rr := s.do(t, http.MethodPatch, "/commands/ghost", map[string]any{"response": "x"}); rr.Code != http.StatusNotFound {
		t.Errorf("patch missing: expected 404, got %d", rr.Code)
	}
}

func seedParticipants(t *testing.T, mem *store.Memory) {
	t.Helper()
	ps := []model.Participant{
		{TwitchID: "1", Login: "alice", DisplayName: "Alice", MessageCount: 50, CommandCount: 5, FirstSeen: testNow.Add(-72 * time.Hour), LastSeen: testNow.Add(-time.Hour)},
		{TwitchID: "2", Login: "bob", DisplayName: "Bob", MessageCount: 10, CommandCount: 1, FirstSeen: testNow.Add(-72 * time.Hour), LastSeen: testNow.Add(-48 * time.Hour)},
		{TwitchID: "3", Login: "carol", DisplayName: "Carol", Role: role.Moderator, IsModerator: true, MessageCount: 99, FirstSeen: testNow.Add(-2 * time.Hour), LastSeen: testNow.Add(-time.Minute)},
	}
	for i := range ps {
		if err := mem.CreateParticipant(context.Background(), &ps[i]); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
	}
}

func TestUsersEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig())
	seedParticipants(t, s.store)

	rr := s.do(t, http.MethodGet, "/users", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	users := decode[[]model.Participant](t, rr)
	if len(users) != 3 || users[0].Login != "carol" || users[2].Login != "bob" {
		t.Errorf("users not ordered by last_seen desc: %+v", users)
	}

	users = decode[[]model.Participant](t, s.do(t, http.MethodGet, "/users?skip=1&limit=1", nil))
	if len(users) != 1 || users[0].Login != "alice" {
		t.Errorf("paged users = %+v", users)
	}
	for _, q := range []string{"skip=-1", "limit=0", "limit=501"} {
		if rr := s.do(t, http.MethodGet, "/users?"+q, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rr.Code)
		}
	}

	stats := decode[model.ParticipantStats](t, s.do(t, http.MethodGet, "/users/stats", nil))
	want := model.ParticipantStats{TotalUsers: 3, TotalMessages: 159, TotalCommands: 6, ActiveToday: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	top := decode[[]model.Participant](t, s.do(t, http.MethodGet, "/users/top/chatters?limit=2", nil))
	if len(top) != 2 || top[0].Login != "carol" || top[1].Login != "alice" {
		t.Errorf("top chatters = %+v", top)
	}

	rr = s.do(t, http.MethodGet, "/users/Carol", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get user: expected 200, got %d", rr.Code)
	}
	if u := decode[model.Participant](t, rr); u.Role != role.Moderator || u.TwitchID != "3" {
		t.Errorf("user = %+v", u)
	}
	if rr := s.do(t, http.MethodGet, "/users/nobody", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing user: expected 404, got %d", rr.Code)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := s.do(t, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected generated correlation id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig())
	if rr := s.do(t, http.MethodPut, "/commands/perfil", map[string]any{}); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT: expected 405, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("command x: %w", model.ErrForbidden), http.StatusForbidden},
		{model.ErrDuplicateName, http.StatusBadRequest},
		{model.Invalidf("bad"), http.StatusBadRequest},
		{model.ErrPersistence, http.StatusServiceUnavailable},
		{model.ErrUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
