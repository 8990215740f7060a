package admin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckcoding-hq/relay/pkg/netproxy"
	"duckcoding-hq/relay/pkg/server"
	"duckcoding-hq/relay/pkg/session"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	cleanup  [2]int
	events   chan session.Event
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: map[string]*session.Session{
			"s1": {SessionID: "s1", DisplayID: "abc", ToolID: "codex", ConfigName: session.ConfigGlobal},
		},
		events: make(chan session.Event, 4),
	}
}

func (f *fakeSessions) ListSessions(_ context.Context, toolID string, page, pageSize int) (*session.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &session.Page{Page: page, PageSize: pageSize}
	for _, s := range f.sessions {
		if s.ToolID == toolID {
			p.Sessions = append(p.Sessions, *s)
			p.Total++
		}
	}
	return p, nil
}

func (f *fakeSessions) ClearSessions(_ context.Context, toolID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.ToolID == toolID {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) Cleanup(_ context.Context, _ string, maxCount, maxAgeDays int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanup = [2]int{maxCount, maxAgeDays}
	return 3, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) UpdateConfig(_ context.Context, id string, cfg session.Config) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.ConfigName, s.URL, s.APIKey, s.CustomProfileName = cfg.ConfigName, cfg.URL, cfg.APIKey, cfg.CustomProfileName
	return nil
}

func (f *fakeSessions) UpdateNote(_ context.Context, id string, note *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	s.Note = note
	return nil
}

func (f *fakeSessions) Subscribe(int) (<-chan session.Event, func()) {
	return f.events, func() {}
}

type fakeProxies struct {
	mu      sync.Mutex
	running map[string]bool
	lastErr string
}

func (f *fakeProxies) Start(_ context.Context, toolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if toolID != "codex" {
		return server.ErrUnknownTool
	}
	if f.running[toolID] {
		return server.ErrAlreadyRunning
	}
	f.running[toolID] = true
	return nil
}

func (f *fakeProxies) Stop(_ context.Context, toolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[toolID] {
		return server.ErrNotRunning
	}
	delete(f.running, toolID)
	return nil
}

func (f *fakeProxies) Status() []server.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []server.Status{{ToolID: "codex", Enabled: true, Running: f.running["codex"], Port: 8788, LastError: f.lastErr}}
}

type fakeNetwork struct {
	err error
}

func (f *fakeNetwork) Status() netproxy.Status {
	return netproxy.Status{Enabled: true, Configured: "http://proxy:3128"}
}

func (f *fakeNetwork) Apply() (netproxy.Status, error) {
	if f.err != nil {
		return netproxy.Status{}, f.err
	}
	return netproxy.Status{Enabled: true, Configured: "http://proxy:3128", Transport: "http://proxy:3128"}, nil
}

type fixture struct {
	sessions *fakeSessions
	proxies  *fakeProxies
	network  *fakeNetwork
	srv      *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{
		sessions: newFakeSessions(),
		proxies:  &fakeProxies{running: map[string]bool{}},
		network:  &fakeNetwork{},
	}
	api := New(Options{
		Sessions:   f.sessions,
		Proxies:    f.proxies,
		Network:    f.network,
		Token:      token,
		MaxCount:   1000,
		MaxAgeDays: 30,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "relay_up 1\n")
		}),
	})
	f.srv = httptest.NewServer(api)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodGet, "/api/tools/codex/sessions?page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, code)
	var page session.Page
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 10, page.PageSize)

	code, _ = f.do(t, http.MethodGet, "/api/tools/codex/sessions?page=x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"display_id":"abc"`)

	code, _ = f.do(t, http.MethodGet, "/api/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPut, "/api/sessions/s1/config",
		`{"config_name":"custom","url":"https://alt.example.com","api_key":"sk-alt"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"config_name":"custom"`)

	code, _ = f.do(t, http.MethodPut, "/api/sessions/s1/config", `{"config_name":"custom"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/sessions/missing/config", `{"config_name":"global"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPut, "/api/sessions/s1/note", `{"note":"refactor branch"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"note":"refactor branch"`)

	code, body = f.do(t, http.MethodPut, "/api/sessions/s1/note", `{"note":null}`)
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, `"note"`)

	code, _ = f.do(t, http.MethodDelete, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodDelete, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, code, "delete is idempotent")
}

func TestClearAndCleanup(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/tools/codex/sessions/cleanup", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deleted":3}`, body)
	assert.Equal(t, [2]int{1000, 30}, f.sessions.cleanup)

	code, _ = f.do(t, http.MethodPost, "/api/tools/codex/sessions/cleanup", `{"max_count":5}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, [2]int{5, 30}, f.sessions.cleanup)

	code, _ = f.do(t, http.MethodPost, "/api/tools/codex/sessions/cleanup", `{"max_age_days":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodDelete, "/api/tools/codex/sessions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deleted":1}`, body)
}

func TestProxyEndpoints(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/proxies/codex/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"running":true`)

	code, _ = f.do(t, http.MethodPost, "/api/proxies/codex/start", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/proxies/unknown/start", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/proxies", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"tool_id":"codex"`)

	code, _ = f.do(t, http.MethodPost, "/api/proxies/codex/stop", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/proxies/codex/stop", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"proxies"`)
}

func TestHealthReportsFailedListener(t *testing.T) {
	f := newFixture(t, "")

	f.proxies.mu.Lock()
	f.proxies.lastErr = "address already in use"
	f.proxies.mu.Unlock()

	code, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `"status":"degraded"`)
	assert.Contains(t, body, "codex: address already in use")
}

func TestNetworkProxyEndpoints(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodGet, "/api/network-proxy", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"configured":"http://proxy:3128"`)

	code, body = f.do(t, http.MethodPost, "/api/network-proxy/apply", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"transport":"http://proxy:3128"`)

	f.network.err = netproxy.ErrInvalidSettings
	code, _ = f.do(t, http.MethodPost, "/api/network-proxy/apply", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	code, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code, "health is public")

	code, _ = f.do(t, http.MethodGet, "/api/proxies", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodGet, "/api/proxies", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.do(t, http.MethodGet, "/api/proxies", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/api/proxies?token=s3cret", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := f.do(t, http.MethodGet, "/metrics", "", "Authorization", "bearer s3cret")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "relay_up")
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	f.sessions.events <- session.Event{Type: session.EventCreated, ToolID: "codex", SessionID: "s2", Count: 1, At: time.Unix(1700000000, 0)}

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var ev session.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, session.EventCreated, ev.Type)
	assert.Equal(t, "s2", ev.SessionID)

	close(f.sessions.events)
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
