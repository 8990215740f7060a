package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"duckcoding-hq/relay/pkg/route"
)

// Resolver computes the effective route of a session.
type Resolver interface {
	Resolve(toolID string, o route.Override) (route.Route, error)
}

// Observer receives manager statistics. The metrics collector implements it.
type Observer interface {
	SessionEvent(eventType string)
	ActivityDropped()
	EventDropped()
	SessionsPruned(toolID string, n int64)
}

type nopObserver struct{}

func (nopObserver) SessionEvent(string)          {}
func (nopObserver) ActivityDropped()             {}
func (nopObserver) EventDropped()                {}
func (nopObserver) SessionsPruned(string, int64) {}

// Options configures a Manager.
type Options struct {
	// Tools are the configured tool ids, always reported by ActiveTools
	// together with every tool that already owns a stored session.
	Tools []string

	// ActivityBuffer is the capacity of the activity queue.
	// Default: 1024
	ActivityBuffer int

	// WriteTimeout bounds one asynchronous activity write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// ReadTimeout bounds the config read of a route cache miss.
	// Default: 2 seconds
	ReadTimeout time.Duration

	// MaxCachedRoutes caps the route cache; it is flushed when full.
	// Default: 10000
	MaxCachedRoutes int

	Observer Observer
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ActivityBuffer <= 0 {
		o.ActivityBuffer = 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.MaxCachedRoutes <= 0 {
		o.MaxCachedRoutes = 10000
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager is the single entry point to the session registry. It derives
// session ids, caches resolved routes, records activity off the request
// path and publishes lifecycle events.
type Manager struct {
	store    Store
	resolver Resolver
	opts     Options

	// mu guards the route cache. Config writes hold it while persisting so
	// that no reader observes the old route after the write returns.
	mu     sync.RWMutex
	routes map[string]route.Route
	gen    uint64
	group  singleflight.Group

	toolsMu sync.Mutex
	tools   map[string]struct{}

	// closeMu orders RecordActivity against Close: once closed is set no
	// send reaches the queue, so every record is either written or counted
	// as dropped.
	closeMu   sync.RWMutex
	closed    bool
	activity  chan Handle
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	events *broker
	logger *slog.Logger
}

// NewManager creates a manager and starts its activity worker.
func NewManager(store Store, resolver Resolver, opts Options) *Manager {
	opts.applyDefaults()

	m := &Manager{
		store:    store,
		resolver: resolver,
		opts:     opts,
		routes:   make(map[string]route.Route),
		tools:    make(map[string]struct{}),
		activity: make(chan Handle, opts.ActivityBuffer),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "session.manager"),
	}
	m.events = newBroker(opts.Observer.EventDropped)
	for _, t := range opts.Tools {
		m.tools[t] = struct{}{}
	}
	m.loadTools()

	m.wg.Add(1)
	go m.worker()

	return m
}

// loadTools adds the tools of stored sessions to the active set. A failed
// read leaves the set as configured.
func (m *Manager) loadTools() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ReadTimeout)
	defer cancel()

	ids, err := m.store.ToolIDs(ctx)
	if err != nil {
		m.logger.Warn("failed to load stored tool ids", "error", err)
		return
	}
	for _, t := range ids {
		m.tools[t] = struct{}{}
	}
}

// Identify derives the session of a request without touching the store.
func (m *Manager) Identify(toolID string, raw RawIdentity) (Handle, error) {
	h, err := DeriveHandle(toolID, raw)
	if err != nil {
		return Handle{}, err
	}
	m.noteTool(toolID)
	return h, nil
}

// Touch identifies a session and records one request for it synchronously.
func (m *Manager) Touch(ctx context.Context, toolID string, raw RawIdentity) (Handle, error) {
	h, err := m.Identify(toolID, raw)
	if err != nil {
		return Handle{}, err
	}
	if err := m.touch(ctx, h); err != nil {
		return h, err
	}
	return h, nil
}

// RecordActivity queues one request for the session without blocking. When
// the queue is full the record is dropped.
func (m *Manager) RecordActivity(h Handle) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()

	if m.closed {
		m.opts.Observer.ActivityDropped()
		return
	}

	select {
	case m.activity <- h:
	default:
		m.opts.Observer.ActivityDropped()
		m.logger.Warn("activity queue full, dropping record",
			"session_id", h.SessionID,
			"tool_id", h.ToolID,
			"capacity", m.opts.ActivityBuffer,
		)
	}
}

func (m *Manager) touch(ctx context.Context, h Handle) error {
	count, err := m.store.UpsertSession(ctx, h.SessionID, h.DisplayID, h.ToolID, m.opts.Now().Unix())
	if err != nil {
		return err
	}

	evType := EventTouched
	if count == 1 {
		evType = EventCreated
		m.logger.Info("new session",
			"session_id", h.SessionID,
			"display_id", h.DisplayID,
			"tool_id", h.ToolID,
			"source", h.Source,
		)
	}
	m.publish(Event{Type: evType, ToolID: h.ToolID, SessionID: h.SessionID, Count: count})
	return nil
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case h := <-m.activity:
			m.writeActivity(h)
		case <-m.done:
			for {
				select {
				case h := <-m.activity:
					m.writeActivity(h)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) writeActivity(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	if err := m.touch(ctx, h); err != nil {
		m.logger.Error("failed to record session activity",
			"session_id", h.SessionID,
			"tool_id", h.ToolID,
			"error", err,
		)
	}
}

// ResolveRoute returns the effective route of a session. Concurrent misses
// for one session share a single store read.
func (m *Manager) ResolveRoute(ctx context.Context, toolID, sessionID string) (route.Route, error) {
	m.mu.RLock()
	r, ok := m.routes[sessionID]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}

	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		m.mu.RLock()
		gen := m.gen
		m.mu.RUnlock()

		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ReadTimeout)
		defer cancel()

		cfg, err := m.store.GetSessionConfig(readCtx, sessionID)
		if err != nil {
			return route.Route{}, err
		}
		r, err := m.resolver.Resolve(toolID, cfg.Override())
		if err != nil {
			return route.Route{}, err
		}

		m.mu.Lock()
		if m.gen == gen {
			if len(m.routes) >= m.opts.MaxCachedRoutes {
				m.routes = make(map[string]route.Route)
			}
			m.routes[sessionID] = r
		}
		m.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return route.Route{}, err
	}
	return v.(route.Route), nil
}

// ResolveDefault resolves the global route of a tool for requests that
// could not be attributed to a session.
func (m *Manager) ResolveDefault(toolID string) (route.Route, error) {
	return m.resolver.Resolve(toolID, route.Override{})
}

// UpdateConfig changes the routing of a session. The cached route is
// invalidated before the call returns.
func (m *Manager) UpdateConfig(ctx context.Context, sessionID string, cfg Config) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}

	err = m.invalidating(sessionID, func() error {
		return m.store.UpdateSessionConfig(ctx, sessionID, cfg)
	})
	if err != nil {
		return err
	}

	var toolID string
	if s, err := m.store.GetSession(ctx, sessionID); err == nil && s != nil {
		toolID = s.ToolID
	}
	m.logger.Info("session config updated",
		"session_id", sessionID,
		"config_name", cfg.ConfigName,
	)
	m.publish(Event{Type: EventUpdated, ToolID: toolID, SessionID: sessionID})
	return nil
}

// UpdateNote sets or clears (nil) the note of a session.
func (m *Manager) UpdateNote(ctx context.Context, sessionID string, note *string) error {
	err := m.invalidating(sessionID, func() error {
		return m.store.UpdateSessionNote(ctx, sessionID, note)
	})
	if err != nil {
		return err
	}
	m.publish(Event{Type: EventUpdated, SessionID: sessionID})
	return nil
}

// DeleteSession removes a session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	err := m.invalidating(sessionID, func() error {
		return m.store.DeleteSession(ctx, sessionID)
	})
	if err != nil {
		return err
	}
	m.publish(Event{Type: EventDeleted, SessionID: sessionID})
	return nil
}

// ClearSessions removes every session of a tool.
func (m *Manager) ClearSessions(ctx context.Context, toolID string) (int64, error) {
	var n int64
	err := m.invalidating("", func() error {
		var err error
		n, err = m.store.ClearSessions(ctx, toolID)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.logger.Info("sessions cleared", "tool_id", toolID, "deleted", n)
	m.publish(Event{Type: EventCleared, ToolID: toolID, Count: n})
	return n, nil
}

// Cleanup applies retention to one tool.
func (m *Manager) Cleanup(ctx context.Context, toolID string, maxCount, maxAgeDays int) (int64, error) {
	n, err := m.store.CleanupOldSessions(ctx, toolID, maxCount, maxAgeDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.InvalidateAll()
		m.opts.Observer.SessionsPruned(toolID, n)
		m.publish(Event{Type: EventPruned, ToolID: toolID, Count: n})
	}
	return n, nil
}

// ListSessions returns one page of a tool's sessions.
func (m *Manager) ListSessions(ctx context.Context, toolID string, page, pageSize int) (*Page, error) {
	return m.store.GetSessions(ctx, toolID, page, pageSize)
}

// GetSession returns ErrSessionNotFound for unknown ids.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// InvalidateAll drops every cached route.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes = make(map[string]route.Route)
	m.gen++
}

// invalidating runs fn under the cache lock and drops the cached route of
// sessionID (or every route when sessionID is empty) if fn succeeds. A
// not-found result also invalidates, since a stale entry may exist.
func (m *Manager) invalidating(sessionID string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := fn()
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	if sessionID == "" {
		m.routes = make(map[string]route.Route)
	} else {
		delete(m.routes, sessionID)
	}
	m.gen++
	return err
}

// ActiveTools returns configured tools plus every tool seen since start.
func (m *Manager) ActiveTools() []string {
	m.toolsMu.Lock()
	defer m.toolsMu.Unlock()

	tools := make([]string, 0, len(m.tools))
	for t := range m.tools {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

func (m *Manager) noteTool(toolID string) {
	m.toolsMu.Lock()
	m.tools[toolID] = struct{}{}
	m.toolsMu.Unlock()
}

// Subscribe returns a channel of lifecycle events and a function that ends
// the subscription. The channel is closed when the subscription ends or the
// manager is closed.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

func (m *Manager) publish(ev Event) {
	ev.At = m.opts.Now()
	m.opts.Observer.SessionEvent(string(ev.Type))
	m.events.publish(ev)
}

// Close drains queued activity, then ends all subscriptions. The store is
// not closed.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closeMu.Lock()
		m.closed = true
		m.closeMu.Unlock()

		close(m.done)
		m.wg.Wait()
		m.events.close()
	})
	return nil
}
