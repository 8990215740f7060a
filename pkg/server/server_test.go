package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckcoding-hq/relay/pkg/config"
	"duckcoding-hq/relay/pkg/proxy"
	"duckcoding-hq/relay/pkg/route"
	"duckcoding-hq/relay/pkg/session"
)

// freePort reserves and releases a loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func enabled(v bool) *bool { return &v }

func newTestSupervisor(t *testing.T, tools map[string]config.ToolConfig) *Supervisor {
	t.Helper()
	factory := func(toolID string, _ config.ToolConfig) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proxy.ConnIDFromContext(r.Context()) == "" {
				http.Error(w, "missing connection id", http.StatusInternalServerError)
				return
			}
			if r.URL.Path == "/panic" {
				panic("boom")
			}
			_, _ = io.WriteString(w, toolID)
		})
	}
	sup := NewSupervisor(config.ServerConfig{
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, tools, factory, nil)
	t.Cleanup(func() { _ = sup.StopAll(context.Background()) })
	return sup
}

func get(t *testing.T, addr, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestSupervisorStartStop(t *testing.T) {
	sup := newTestSupervisor(t, map[string]config.ToolConfig{
		"codex": {Port: freePort(t)},
	})
	ctx := context.Background()

	require.NoError(t, sup.Start(ctx, "codex"))
	addr, ok := sup.Addr("codex")
	require.True(t, ok)

	resp, body := get(t, addr, "/v1/responses")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "codex", body)
	assert.Empty(t, resp.Header.Get("X-Request-ID"), "listeners add no headers")

	err := sup.Start(ctx, "codex")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, sup.Stop(ctx, "codex"))
	_, ok = sup.Addr("codex")
	assert.False(t, ok)

	_, err = http.Get("http://" + addr + "/")
	assert.Error(t, err)

	assert.ErrorIs(t, sup.Stop(ctx, "codex"), ErrNotRunning)

	// restart on the same port
	require.NoError(t, sup.Start(ctx, "codex"))
	_, body = get(t, addr, "/")
	assert.Equal(t, "codex", body)
}

func TestSupervisorUnknownTool(t *testing.T) {
	sup := newTestSupervisor(t, map[string]config.ToolConfig{})
	assert.ErrorIs(t, sup.Start(context.Background(), "nope"), ErrUnknownTool)
	assert.ErrorIs(t, sup.Stop(context.Background(), "nope"), ErrUnknownTool)
}

func TestSupervisorPortInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	sup := newTestSupervisor(t, map[string]config.ToolConfig{
		"gemini-cli": {Port: taken.Addr().(*net.TCPAddr).Port},
	})

	err = sup.Start(context.Background(), "gemini-cli")
	require.Error(t, err)

	st := sup.Status()
	require.Len(t, st, 1)
	assert.False(t, st[0].Running)
	assert.NotEmpty(t, st[0].LastError)
}

func TestSupervisorStartEnabledSkipsDisabled(t *testing.T) {
	sup := newTestSupervisor(t, map[string]config.ToolConfig{
		"claude-code": {Port: freePort(t)},
		"codex":       {Port: freePort(t), Enabled: enabled(false)},
	})

	require.NoError(t, sup.StartEnabled(context.Background()))

	st := sup.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "claude-code", st[0].ToolID)
	assert.True(t, st[0].Running)
	assert.NotNil(t, st[0].StartedAt)
	assert.Equal(t, "codex", st[1].ToolID)
	assert.False(t, st[1].Enabled)
	assert.False(t, st[1].Running)
}

func TestSupervisorRecoversPanics(t *testing.T) {
	sup := newTestSupervisor(t, map[string]config.ToolConfig{
		"claude-code": {Port: freePort(t)},
	})
	require.NoError(t, sup.Start(context.Background(), "claude-code"))
	addr, _ := sup.Addr("claude-code")

	resp, body := get(t, addr, "/panic")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, `"type":"error"`)

	// listener survives
	resp, _ = get(t, addr, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSupervisorRun(t *testing.T) {
	port := freePort(t)
	sup := newTestSupervisor(t, map[string]config.ToolConfig{
		"claude-code": {Port: port},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := sup.Addr("claude-code")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	_, ok := sup.Addr("claude-code")
	assert.False(t, ok)
}

func TestSupervisorStopWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	port := freePort(t)

	sup := NewSupervisor(config.ServerConfig{ShutdownTimeout: 2 * time.Second},
		map[string]config.ToolConfig{"codex": {Port: port}},
		func(string, config.ToolConfig) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				close(started)
				<-release
				_, _ = io.WriteString(w, "done")
			})
		}, nil)
	require.NoError(t, sup.Start(context.Background(), "codex"))
	addr, _ := sup.Addr("codex")

	result := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			result <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		result <- string(b)
	}()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- sup.Stop(context.Background(), "codex") }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "done", <-result)
	err := <-stopped
	assert.False(t, errors.Is(err, ErrNotRunning))
	assert.NoError(t, err)
}

// unroutedSessions sends every request through one default route.
type unroutedSessions struct{ target *url.URL }

func (u unroutedSessions) Identify(string, session.RawIdentity) (session.Handle, error) {
	return session.Handle{}, session.ErrUnidentified
}

func (u unroutedSessions) ResolveRoute(context.Context, string, string) (route.Route, error) {
	return route.Route{}, route.ErrNoRoute
}

func (u unroutedSessions) ResolveDefault(string) (route.Route, error) {
	return route.Route{URL: u.target, APIKey: "sk-up", Source: route.SourceGlobal}, nil
}

func (u unroutedSessions) RecordActivity(session.Handle) {}

func TestListenerKeepsRequestIDHeaders(t *testing.T) {
	seen := make(chan []string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Values("X-Request-Id")
		w.Header().Set("X-Request-Id", "req_upstream_123")
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	factory := func(toolID string, tool config.ToolConfig) http.Handler {
		return proxy.NewHandler(proxy.HandlerConfig{ToolID: toolID, AuthHeader: "x-api-key"},
			unroutedSessions{target: target}, http.DefaultTransport, nil, nil)
	}
	sup := NewSupervisor(config.ServerConfig{ShutdownTimeout: time.Second},
		map[string]config.ToolConfig{"codex": {Port: freePort(t)}}, factory, nil)
	t.Cleanup(func() { _ = sup.StopAll(context.Background()) })
	require.NoError(t, sup.Start(context.Background(), "codex"))
	addr, _ := sup.Addr("codex")

	tests := []struct {
		name     string
		clientID string
		want     []string
	}{
		{"no client id", "", nil},
		{"client id passes unchanged", "trace/abc/zzzzz", []string{"trace/abc/zzzzz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/responses", nil)
			require.NoError(t, err)
			if tt.clientID != "" {
				req.Header.Set("X-Request-Id", tt.clientID)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.want, <-seen)
			assert.Equal(t, []string{"req_upstream_123"}, resp.Header.Values("X-Request-Id"))
		})
	}
}
