package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckcoding-hq/relay/pkg/route"
	"duckcoding-hq/relay/pkg/upstream"
)

// memStore is an in-memory Store used to observe how the manager talks to
// its backend.
type memStore struct {
	mu          sync.Mutex
	rows        map[string]*Session
	configReads atomic.Int32
	failWith    error
	readDelay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*Session)}
}

func (s *memStore) UpsertSession(_ context.Context, id, display, tool string, ts int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	if r, ok := s.rows[id]; ok {
		r.RequestCount++
		r.LastSeenAt = ts
		r.UpdatedAt = ts
		return r.RequestCount, nil
	}
	s.rows[id] = &Session{
		SessionID: id, DisplayID: display, ToolID: tool, ConfigName: ConfigGlobal,
		FirstSeenAt: ts, LastSeenAt: ts, RequestCount: 1, CreatedAt: ts, UpdatedAt: ts,
	}
	return 1, nil
}

func (s *memStore) GetSessions(_ context.Context, tool string, page, size int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Page{Sessions: []Session{}, Page: page, PageSize: size}
	for _, r := range s.rows {
		if r.ToolID == tool {
			out.Sessions = append(out.Sessions, *r)
			out.Total++
		}
	}
	sort.Slice(out.Sessions, func(i, j int) bool { return out.Sessions[i].LastSeenAt > out.Sessions[j].LastSeenAt })
	return out, nil
}

func (s *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetSessionConfig(_ context.Context, id string) (*Config, error) {
	s.configReads.Add(1)
	if s.readDelay > 0 {
		time.Sleep(s.readDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &Config{ConfigName: r.ConfigName, CustomProfileName: r.CustomProfileName, URL: r.URL, APIKey: r.APIKey}, nil
}

func (s *memStore) UpdateSessionConfig(_ context.Context, id string, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	r.ConfigName, r.CustomProfileName, r.URL, r.APIKey = cfg.ConfigName, cfg.CustomProfileName, cfg.URL, cfg.APIKey
	return nil
}

func (s *memStore) UpdateSessionNote(_ context.Context, id string, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	r.Note = note
	return nil
}

func (s *memStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memStore) ClearSessions(_ context.Context, tool string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.ToolID == tool {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ToolIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	seen := make(map[string]struct{})
	ids := []string{}
	for _, r := range s.rows {
		if _, ok := seen[r.ToolID]; !ok {
			seen[r.ToolID] = struct{}{}
			ids = append(ids, r.ToolID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) CleanupOldSessions(_ context.Context, tool string, maxCount, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*Session
	for _, r := range s.rows {
		if r.ToolID == tool {
			rows = append(rows, r)
		}
	}
	if maxCount <= 0 || len(rows) <= maxCount {
		return 0, nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LastSeenAt < rows[j].LastSeenAt })
	excess := rows[:len(rows)-maxCount]
	for _, r := range excess {
		delete(s.rows, r.SessionID)
	}
	return int64(len(excess)), nil
}

func (s *memStore) Close() error { return nil }

func testResolver() *route.Resolver {
	g := &upstream.GlobalConfig{
		Upstreams: map[string]upstream.Credentials{
			"claude-code": {URL: "https://global.example.com", APIKey: "sk-global"},
		},
		Profiles: map[string]map[string]upstream.Credentials{
			"claude-code": {"work": {URL: "https://work.example.com", APIKey: "sk-work"}},
		},
	}
	return route.NewResolver(g, g)
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m := NewManager(store, testResolver(), Options{Tools: []string{"claude-code"}})
	t.Cleanup(func() { m.Close() })
	return m
}

func strPtr(s string) *string { return &s }

func TestManagerTouch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	events, cancel := m.Subscribe(8)
	defer cancel()

	raw := RawIdentity{BodyUserID: "user_abc_account_111_session_0f3c9a2e-aaaa-bbbb-cccc-1234567890ab"}
	h1, err := m.Touch(ctx, "claude-code", raw)
	require.NoError(t, err)
	h2, err := m.Touch(ctx, "claude-code", raw)
	require.NoError(t, err)
	assert.Equal(t, h1.SessionID, h2.SessionID)
	assert.Equal(t, "0f3c9a2e", h1.DisplayID)

	s, err := m.GetSession(ctx, h1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.RequestCount)

	ev := <-events
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, int64(1), ev.Count)
	ev = <-events
	assert.Equal(t, EventTouched, ev.Type)
	assert.Equal(t, int64(2), ev.Count)
}

func TestManagerTouchStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failWith = NewStoreError("mem", "upsert", errors.New("disk full"))
	m := newTestManager(t, store)

	h, err := m.Touch(context.Background(), "claude-code", RawIdentity{ConnID: "c1"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotEmpty(t, h.SessionID, "handle is still derived")
}

func TestManagerRecordActivity(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, testResolver(), Options{})

	h, err := m.Identify("claude-code", RawIdentity{HeaderToken: "abc-123"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		m.RecordActivity(h)
	}
	require.NoError(t, m.Close(), "close drains the queue")

	s, err := store.GetSession(context.Background(), h.SessionID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(5), s.RequestCount)

	m.RecordActivity(h)
	s, _ = store.GetSession(context.Background(), h.SessionID)
	assert.Equal(t, int64(5), s.RequestCount, "records after close are dropped")
}

func TestManagerRouteCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	h, err := m.Touch(ctx, "claude-code", RawIdentity{ConnID: "conn-1"})
	require.NoError(t, err)

	r, err := m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "https://global.example.com", r.URL.String())

	_, err = m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.configReads.Load(), "second resolve served from cache")

	err = m.UpdateConfig(ctx, h.SessionID, Config{ConfigName: ConfigCustom, URL: "https://mine.example.com", APIKey: "sk-mine"})
	require.NoError(t, err)

	r, err = m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "https://mine.example.com", r.URL.String())
	assert.Equal(t, "sk-mine", r.APIKey)
	assert.Equal(t, route.SourceSession, r.Source)

	err = m.UpdateConfig(ctx, h.SessionID, Config{ConfigName: ConfigCustom, CustomProfileName: strPtr("work")})
	require.NoError(t, err)
	r, err = m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, route.SourceProfile, r.Source)

	err = m.UpdateConfig(ctx, h.SessionID, Config{ConfigName: ConfigGlobal, URL: "https://ignored.example.com"})
	require.NoError(t, err)
	r, err = m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, route.SourceGlobal, r.Source)

	reads := store.configReads.Load()
	m.InvalidateAll()
	_, err = m.ResolveRoute(ctx, "claude-code", h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, reads+1, store.configReads.Load())
}

func TestManagerResolveUnknownSessionUsesGlobal(t *testing.T) {
	m := newTestManager(t, newMemStore())

	r, err := m.ResolveRoute(context.Background(), "claude-code", "never-seen")
	require.NoError(t, err)
	assert.Equal(t, route.SourceGlobal, r.Source)

	_, err = m.ResolveRoute(context.Background(), "codex", "never-seen-codex")
	assert.ErrorIs(t, err, route.ErrNoRoute)
}

func TestManagerResolveSingleflight(t *testing.T) {
	store := newMemStore()
	store.readDelay = 50 * time.Millisecond
	m := newTestManager(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ResolveRoute(context.Background(), "claude-code", "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, store.configReads.Load(), int32(20))
}

func TestManagerResolveStoreError(t *testing.T) {
	store := newMemStore()
	store.failWith = NewStoreError("mem", "get_config", errors.New("locked"))
	m := newTestManager(t, store)

	_, err := m.ResolveRoute(context.Background(), "claude-code", "s1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestManagerUpdateConfigValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newMemStore())

	err := m.UpdateConfig(ctx, "x", Config{ConfigName: ConfigCustom})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = m.UpdateConfig(ctx, "x", Config{ConfigName: ConfigGlobal})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerNoteDeleteClear(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := newTestManager(t, store)

	h, err := m.Touch(ctx, "claude-code", RawIdentity{ConnID: "c1"})
	require.NoError(t, err)
	_, err = m.Touch(ctx, "claude-code", RawIdentity{ConnID: "c2"})
	require.NoError(t, err)

	events, cancel := m.Subscribe(8)
	defer cancel()

	require.NoError(t, m.UpdateNote(ctx, h.SessionID, strPtr("hello")))
	s, err := m.GetSession(ctx, h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *s.Note)
	assert.Equal(t, EventUpdated, (<-events).Type)

	require.NoError(t, m.DeleteSession(ctx, h.SessionID))
	_, err = m.GetSession(ctx, h.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, EventDeleted, (<-events).Type)

	n, err := m.ClearSessions(ctx, "claude-code")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ev := <-events
	assert.Equal(t, EventCleared, ev.Type)
	assert.Equal(t, int64(1), ev.Count)
}

func TestManagerCleanup(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Unix(1000, 0)
	m := NewManager(store, testResolver(), Options{Now: func() time.Time { return now }})
	defer m.Close()

	for i := 0; i < 5; i++ {
		now = time.Unix(int64(1000+i), 0)
		_, err := m.Touch(ctx, "claude-code", RawIdentity{ConnID: string(rune('a' + i))})
		require.NoError(t, err)
	}

	events, cancel := m.Subscribe(8)
	defer cancel()

	n, err := m.Cleanup(ctx, "claude-code", 3, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ev := <-events
	assert.Equal(t, EventPruned, ev.Type)
	assert.Equal(t, int64(2), ev.Count)

	n, err = m.Cleanup(ctx, "claude-code", 3, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManagerActiveTools(t *testing.T) {
	m := newTestManager(t, newMemStore())
	_, err := m.Identify("codex", RawIdentity{ConnID: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-code", "codex"}, m.ActiveTools())
}

func TestManagerActiveToolsIncludesStoredTools(t *testing.T) {
	store := newMemStore()
	_, err := store.UpsertSession(context.Background(), "gemini-cli_abc", "abc", "gemini-cli", 1)
	require.NoError(t, err)

	m := newTestManager(t, store)
	assert.Equal(t, []string{"claude-code", "gemini-cli"}, m.ActiveTools())
}

func TestManagerActiveToolsStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failWith = NewStoreError("mem", "tool_ids", errors.New("locked"))

	m := newTestManager(t, store)
	assert.Equal(t, []string{"claude-code"}, m.ActiveTools())
}

// countingObserver counts dropped activity records.
type countingObserver struct {
	nopObserver
	dropped atomic.Int64
}

func (o *countingObserver) ActivityDropped() { o.dropped.Add(1) }

func TestManagerRecordActivityAfterCloseCounted(t *testing.T) {
	obs := &countingObserver{}
	m := NewManager(newMemStore(), testResolver(), Options{Observer: obs})
	require.NoError(t, m.Close())

	h, err := m.Identify("claude-code", RawIdentity{ConnID: "c1"})
	require.NoError(t, err)
	m.RecordActivity(h)
	assert.Equal(t, int64(1), obs.dropped.Load())
}

func TestManagerRecordActivityDuringClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		store := newMemStore()
		obs := &countingObserver{}
		m := NewManager(store, testResolver(), Options{Observer: obs, ActivityBuffer: 4096})

		h, err := m.Identify("claude-code", RawIdentity{ConnID: "c1"})
		require.NoError(t, err)

		const writers, perWriter = 8, 50
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					m.RecordActivity(h)
				}
			}()
		}
		require.NoError(t, m.Close())
		wg.Wait()

		var written int64
		s, err := store.GetSession(context.Background(), h.SessionID)
		require.NoError(t, err)
		if s != nil {
			written = s.RequestCount
		}
		assert.Equal(t, int64(writers*perWriter), written+obs.dropped.Load(),
			"every record is written or counted as dropped")
	}
}

func TestManagerSubscribeAfterClose(t *testing.T) {
	m := NewManager(newMemStore(), testResolver(), Options{})
	events, cancel := m.Subscribe(1)
	require.NoError(t, m.Close())

	_, ok := <-events
	assert.False(t, ok, "subscription closed with the manager")
	cancel()

	events, cancel = m.Subscribe(1)
	defer cancel()
	_, ok = <-events
	assert.False(t, ok)
}
