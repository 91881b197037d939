package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/migrate"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	t      *testing.T
}

func newTestServer(t *testing.T, mutate ...func(*config.Config, *Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("acme")
	srvCfg := Config{BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}}
	for _, m := range mutate {
		m(cfg, &srvCfg)
	}
	e := engine.New(conn, cfg, engine.WithClock(func() time.Time { return testNow }))
	ctx := context.Background()
	_, err = e.AddContributor(ctx, "owner", domain.Contributor{ID: "alice", Name: "Alice", HourlyRate: decimal.NewFromInt(75)})
	require.NoError(t, err)
	_, err = e.AddContributor(ctx, "owner", domain.Contributor{ID: "bob", Name: "Bob", HourlyRate: decimal.NewFromInt(60)})
	require.NoError(t, err)
	require.NoError(t, e.GrantRole(ctx, "owner", "rev", "reviewer"))

	srvCfg.Engine = e
	handler, err := New(srvCfg)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &testServer{URL: ts.URL, Engine: e, t: t}
}

func token(t *testing.T, actor string, roles ...string) string {
	t.Helper()
	tok, err := SignToken(testSecret, actor, roles, nil, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	s.t.Helper()
	status, data := s.raw(method, path, body, headers)
	out := map[string]any{}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(s.t, json.Unmarshal(data, &out), string(data))
	}
	return status, out
}

func (s *testServer) raw(method, path string, body any, headers map[string]string) (int, []byte) {
	s.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(s.t, err)
	return res.StatusCode, data
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func errorCode(body map[string]any) string {
	env, _ := body["error"].(map[string]any)
	code, _ := env["code"].(string)
	return code
}

// seedSubmitted puts a submitted 8h Development entry for cid on date.
func (s *testServer) seedSubmitted(cid string, date domain.Date) {
	s.t.Helper()
	tok := bearer(token(s.t, cid, "contributor"))
	status, body := s.do(http.MethodPut, "/v0/entries/"+cid+"/"+string(date), map[string]any{"hours": "8", "task": "Development"}, tok)
	require.Equal(s.t, http.StatusOK, status, body)
	status, body = s.do(http.MethodPost, "/v0/entries/"+cid+"/"+string(date)+"/submit", nil, tok)
	require.Equal(s.t, http.StatusOK, status, body)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(http.MethodGet, "/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(http.MethodGet, "/v0/contributors", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(body))

	status, body = s.do(http.MethodGet, "/v0/contributors", nil, bearer("not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", errorCode(body))
}

func TestEntryLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-08")

	status, body := s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/approve", map[string]any{"note": "ok"}, bearer(token(t, "rev")))
	require.Equal(t, http.StatusOK, status, body)
	entry := body["entry"].(map[string]any)
	assert.Equal(t, "approved", entry["status"])
	assert.Equal(t, "rev", entry["reviewer_id"])
	assert.Equal(t, "8", entry["hours"])
	billing := body["billing"].(map[string]any)
	assert.Equal(t, "600", billing["amount"])
	assert.Equal(t, "75", billing["rate"])

	en, err := s.Engine.Entry("alice", "2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, en.Status)
}

func TestTransitionsWithoutBody(t *testing.T) {
	s := newTestServer(t)
	tok := bearer(token(t, "rev"))
	status, body := s.do(http.MethodPut, "/v0/entries/alice/2024-01-08", map[string]any{"hours": "8", "task": "Development"}, tok)
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/submit", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "submitted", body["status"])

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reject", nil, tok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorCode(body))

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reject", map[string]any{"reason": "split by task"}, tok)
	require.Equal(t, http.StatusOK, status, body)
	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reopen", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "draft", body["status"])

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/submit", map[string]any{}, tok)
	require.Equal(t, http.StatusOK, status, body)
	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/approve", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	entry := body["entry"].(map[string]any)
	assert.Equal(t, "approved", entry["status"])
}

func TestRatesHiddenWithoutPermission(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-08")
	s.seedSubmitted("bob", "2024-01-08")

	status, body := s.do(http.MethodGet, "/v0/aggregates/day/2024-01-08", nil, bearer(token(t, "alice", "contributor")))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "16", body["total_hours"])
	assert.NotContains(t, body, "total_cost")
	for _, c := range body["contributors"].([]any) {
		assert.NotContains(t, c.(map[string]any), "cost")
	}

	status, body = s.do(http.MethodGet, "/v0/aggregates/day/2024-01-08", nil, bearer(token(t, "rev")))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "1080", body["total_cost"])

	status, body = s.do(http.MethodGet, "/v0/contributors/alice", nil, bearer(token(t, "alice", "contributor")))
	require.Equal(t, http.StatusOK, status, body)
	assert.NotContains(t, body, "hourly_rate")
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	tok := bearer(token(t, "alice", "contributor"))
	status, body := s.do(http.MethodPut, "/v0/entries/alice/2024-01-08", map[string]any{"hours": "8", "task": "Development"}, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["created"])

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/approve", nil, bearer(token(t, "rev")))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "state_conflict", errorCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "draft", details["current"])

	status, body = s.do(http.MethodPut, "/v0/entries/alice/2024-01-09", map[string]any{"hours": "25", "task": "Development"}, tok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorCode(body))

	status, body = s.do(http.MethodGet, "/v0/entries/carol/2024-01-08", nil, tok)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(body))

	status, _ = s.do(http.MethodGet, "/v0/entries/alice/08-01-2024", nil, tok)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/submit", map[string]any{"if_version": 7}, tok)
	assert.Equal(t, http.StatusConflict, status)
	details = body["error"].(map[string]any)["details"].(map[string]any)
	assert.EqualValues(t, 7, details["expected_version"])
}

func TestRejectNeedsReason(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-08")
	rev := bearer(token(t, "rev"))

	status, body := s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reject", map[string]any{"reason": "  "}, rev)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorCode(body))

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reject", map[string]any{"reason": "wrong task"}, rev)
	require.Equal(t, http.StatusOK, status, body)
	notice := body["notice"].(map[string]any)
	assert.Equal(t, "wrong task", notice["reason"])

	status, body = s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/reopen", nil, bearer(token(t, "alice")))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "draft", body["status"])
	assert.NotContains(t, body, "reason")
}

func TestSelectionEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, d := range []domain.Date{"2024-01-08", "2024-01-09", "2024-01-10"} {
		s.seedSubmitted("alice", d)
	}
	s.seedSubmitted("bob", "2024-01-08")
	rev := bearer(token(t, "rev"))
	sel := map[string]any{"mode": "contributors", "ids": []string{"alice"}, "from": "2024-01-08", "to": "2024-01-14"}

	status, body := s.do(http.MethodPost, "/v0/selection/preview", sel, rev)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "24", body["total_hours"])
	assert.Equal(t, "1800", body["total_amount"])
	assert.EqualValues(t, 3, body["submitted_count"])

	status, body = s.do(http.MethodPost, "/v0/selection/preview", sel, bearer(token(t, "alice", "contributor")))
	require.Equal(t, http.StatusOK, status, body)
	assert.NotContains(t, body, "total_amount")

	sel["note"] = "week 2"
	status, body = s.do(http.MethodPost, "/v0/selection/approve", sel, rev)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 3, body["transitioned"])
	assert.EqualValues(t, 0, body["skipped"])

	bob, err := s.Engine.Entry("bob", "2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, bob.Status)
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-08")
	keys := []map[string]string{
		{"contributor_id": "alice", "date": "2024-01-08"},
		{"contributor_id": "nobody", "date": "2024-01-08"},
	}
	status, body := s.do(http.MethodPost, "/v0/batch/reject", map[string]any{"keys": keys, "reason": "missing"}, bearer(token(t, "rev")))
	assert.Equal(t, http.StatusNotFound, status, body)

	status, body = s.do(http.MethodPost, "/v0/batch/reject", map[string]any{"keys": keys[:1], "reason": "missing"}, bearer(token(t, "rev")))
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["transitioned"])
	assert.Len(t, body["returns"], 1)
}

func TestPeriodAndVariance(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-02")
	s.seedSubmitted("alice", "2024-01-09")
	tok := bearer(token(t, "rev"))

	status, body := s.do(http.MethodGet, "/v0/aggregates/week/2024-01-10", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "2024-01-08", body["from"])
	assert.Equal(t, "2024-01-14", body["to"])
	assert.Len(t, body["days"], 7)

	status, body = s.do(http.MethodGet, "/v0/aggregates/period?from=2024-01-10&to=2024-01-01", nil, tok)
	assert.Equal(t, http.StatusBadRequest, status, body)
	status, body = s.do(http.MethodGet, "/v0/aggregates/period?from=0001-01-01&to=9999-12-31", nil, tok)
	assert.Equal(t, http.StatusBadRequest, status, body)
	assert.Equal(t, "bad_request", errorCode(body))

	status, body = s.do(http.MethodGet, "/v0/contributors/alice/variance?from=2024-01-08&to=2024-01-14", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "normal", body["classification"])
	assert.Equal(t, "0", body["delta"])

	status, body = s.do(http.MethodPost, "/v0/variance", map[string]any{"current": "35", "baseline": "40"}, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "-12.5", body["percent"])
	assert.Equal(t, "decrease", body["classification"])

	status, body = s.do(http.MethodPost, "/v0/variance", map[string]any{"current": "5", "baseline": "0"}, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.NotContains(t, body, "percent")
	assert.Equal(t, "increase", body["classification"])

	status, body = s.do(http.MethodPost, "/v0/variance", map[string]any{"current": "10", "baseline": "-10"}, tok)
	assert.Equal(t, http.StatusBadRequest, status, body)
	assert.Equal(t, "bad_request", errorCode(body))
	status, _ = s.do(http.MethodPost, "/v0/variance", map[string]any{"current": "-1", "baseline": "8"}, tok)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIKeyAndMe(t *testing.T) {
	s := newTestServer(t)
	_, plain, err := s.Engine.CreateAPIKey(context.Background(), "owner", "rev", "ci")
	require.NoError(t, err)

	status, body := s.do(http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "rev", body["actor_id"])
	assert.Equal(t, "api_key", body["source"])
	assert.Equal(t, true, body["show_rates"])

	status, _ = s.do(http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": "hl_wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestEventsRedactMoney(t *testing.T) {
	s := newTestServer(t)
	s.seedSubmitted("alice", "2024-01-08")
	status, body := s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/approve", nil, bearer(token(t, "rev")))
	require.Equal(t, http.StatusOK, status, body)

	payloadFor := func(tok string) map[string]any {
		status, body := s.do(http.MethodGet, "/v0/events?type=entry.approved", nil, bearer(tok))
		require.Equal(t, http.StatusOK, status, body)
		items := body["items"].([]any)
		require.Len(t, items, 1)
		return items[0].(map[string]any)["payload"].(map[string]any)
	}
	assert.Contains(t, payloadFor(token(t, "rev")), "billing")
	assert.NotContains(t, payloadFor(token(t, "alice", "contributor")), "billing")
}

func TestEventsPagination(t *testing.T) {
	s := newTestServer(t)
	tok := bearer(token(t, "rev"))
	status, body := s.do(http.MethodGet, "/v0/events?limit=2", nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["items"], 2)
	cursor, _ := body["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	status, body = s.do(http.MethodGet, "/v0/events?limit=2&cursor="+cursor, nil, tok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["items"], 1)
	assert.NotContains(t, body, "next_cursor")
}

func TestDevLogin(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, c *Config) { c.EnableDevLogin = true })
	status, body := s.do(http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "dana", "permissions": []string{"rates.view"}}, nil)
	require.Equal(t, http.StatusOK, status, body)
	tok := body["token"].(string)

	status, body = s.do(http.MethodGet, "/v0/me", nil, bearer(tok))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "dana", body["actor_id"])
	assert.Equal(t, true, body["show_rates"])
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "dana"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

type receiver struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	failNext bool
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	data, _ := io.ReadAll(req.Body)
	r.bodies = append(r.bodies, data)
	r.headers = append(r.headers, req.Header.Clone())
}

func (r *receiver) failOnce() {
	r.mu.Lock()
	r.failNext = true
	r.mu.Unlock()
}

func (r *receiver) received() ([][]byte, []http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bodies...), append([]http.Header(nil), r.headers...)
}

func TestWebhookDelivery(t *testing.T) {
	recv := &receiver{}
	hook := httptest.NewServer(recv)
	defer hook.Close()
	s := newTestServer(t, func(cfg *config.Config, _ *Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "shh", Events: []string{"entry.approved", "batch.*"}}}
	})
	d := NewWebhookDispatcher(s.Engine)
	require.NotNil(t, d)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	s.seedSubmitted("alice", "2024-01-08")
	s.seedSubmitted("bob", "2024-01-08")
	rev := bearer(token(t, "rev"))
	status, body := s.do(http.MethodPost, "/v0/entries/alice/2024-01-08/approve", nil, rev)
	require.Equal(t, http.StatusOK, status, body)

	recv.failOnce()
	d.DispatchOnce(ctx)
	bodies, _ := recv.received()
	assert.Empty(t, bodies)

	d.DispatchOnce(ctx)
	bodies, headers := recv.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, "entry.approved", headers[0].Get("X-Hourline-Event"))
	assert.Equal(t, Sign("shh", bodies[0]), headers[0].Get("X-Hourline-Signature"))
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &evt))
	assert.Equal(t, "acme", evt["workspace"])
	assert.Equal(t, "rev", evt["actor_id"])

	keys := []map[string]string{{"contributor_id": "bob", "date": "2024-01-08"}}
	status, body = s.do(http.MethodPost, "/v0/batch/approve", map[string]any{"keys": keys}, rev)
	require.Equal(t, http.StatusOK, status, body)
	d.DispatchOnce(ctx)
	bodies, headers = recv.received()
	require.Len(t, bodies, 2)
	assert.Equal(t, "batch.approved", headers[1].Get("X-Hourline-Event"))
}

func TestWebhookRunStopsWithContext(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1"}}
	})
	d := NewWebhookDispatcher(s.Engine, WithWebhookInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
