package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"duckcoding-hq/relay/pkg/session"
)

// Driver names accepted in Config.Driver.
const (
	// DriverModernc is the pure Go driver (modernc.org/sqlite).
	DriverModernc = "sqlite"

	// DriverMattn is the cgo driver (github.com/mattn/go-sqlite3).
	DriverMattn = "sqlite3"
)

const (
	backend = "sqlite"

	// DefaultPageSize is used when a list request asks for no page size.
	DefaultPageSize = 20

	// MaxPageSize caps a single page.
	MaxPageSize = 500
)

// Config contains configuration for the SQLite session store.
type Config struct {
	// Driver selects the database/sql driver.
	// Default: "sqlite"
	Driver string

	// Path is the database file path, or ":memory:".
	Path string

	// WALMode enables Write-Ahead Logging for file databases.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default SQLite configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:      DriverModernc,
		Path:        "sessions.db",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
		Now:         time.Now,
	}
}

// SQLiteStore implements session.Store on a single SQLite connection. The
// mutex serialises statements so the upsert never races the retention
// sweep inside the driver.
type SQLiteStore struct {
	db     *sqlx.DB
	config *Config
	mu     sync.Mutex
	logger *slog.Logger
}

var _ session.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the session database and applies
// the schema and migrations.
func NewSQLiteStore(config *Config) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverModernc
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := slog.Default().With("component", "session.storage.sqlite")

	if !isMemory(config.Path) {
		if dir := filepath.Dir(config.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, session.NewStoreError(backend, "create_dir", err)
			}
		}
	}

	db, err := sqlx.Open(config.Driver, config.Path)
	if err != nil {
		return nil, session.NewStoreError(backend, "open", err)
	}

	// One connection: an in-memory database lives and dies with it, and a
	// file database gets a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("session store initialized",
		"driver", config.Driver,
		"path", config.Path,
		"wal_mode", config.WALMode && !isMemory(config.Path),
	)

	return s, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (s *SQLiteStore) initialize() error {
	if err := s.db.Ping(); err != nil {
		return session.NewStoreError(backend, "ping", err)
	}

	if s.config.WALMode && !isMemory(s.config.Path) {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return session.NewStoreError(backend, "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return session.NewStoreError(backend, "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return session.NewStoreError(backend, "create_schema", err)
	}

	for _, m := range Migrations {
		if _, err := s.db.Exec(m); err != nil {
			s.logger.Debug("migration skipped", "statement", m, "reason", err)
		}
	}

	return nil
}

// UpsertSession implements session.Store.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sessionID, displayID, toolID string, ts int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.GetContext(ctx, &count, upsertSession, sessionID, displayID, toolID, ts, ts, ts, ts)
	if err != nil {
		return 0, session.NewStoreError(backend, "upsert", err)
	}
	return count, nil
}

// GetSessions implements session.Store.
func (s *SQLiteStore) GetSessions(ctx context.Context, toolID string, page, pageSize int) (*session.Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	if err := s.db.GetContext(ctx, &total, countSessions, toolID); err != nil {
		return nil, session.NewStoreError(backend, "count", err)
	}

	sessions := []session.Session{}
	offset := (page - 1) * pageSize
	if err := s.db.SelectContext(ctx, &sessions, listSessions, toolID, pageSize, offset); err != nil {
		return nil, session.NewStoreError(backend, "list", err)
	}

	return &session.Page{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetSession implements session.Store.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out session.Session
	if err := s.db.GetContext(ctx, &out, getSession, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, session.NewStoreError(backend, "get", err)
	}
	return &out, nil
}

// GetSessionConfig implements session.Store.
func (s *SQLiteStore) GetSessionConfig(ctx context.Context, sessionID string) (*session.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out session.Config
	if err := s.db.GetContext(ctx, &out, getSessionConfig, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, session.NewStoreError(backend, "get_config", err)
	}
	return &out, nil
}

// UpdateSessionConfig implements session.Store.
func (s *SQLiteStore) UpdateSessionConfig(ctx context.Context, sessionID string, cfg session.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, updateSessionConfig,
		cfg.ConfigName, cfg.CustomProfileName, cfg.URL, cfg.APIKey, s.config.Now().Unix(), sessionID)
	if err != nil {
		return session.NewStoreError(backend, "update_config", err)
	}
	return requireRow(res, "update_config")
}

// UpdateSessionNote implements session.Store.
func (s *SQLiteStore) UpdateSessionNote(ctx context.Context, sessionID string, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, updateSessionNote, note, s.config.Now().Unix(), sessionID)
	if err != nil {
		return session.NewStoreError(backend, "update_note", err)
	}
	return requireRow(res, "update_note")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return session.NewStoreError(backend, op, err)
	}
	if n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// DeleteSession implements session.Store. Deleting an unknown id is not an
// error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, deleteSession, sessionID); err != nil {
		return session.NewStoreError(backend, "delete", err)
	}
	return nil
}

// ClearSessions implements session.Store.
func (s *SQLiteStore) ClearSessions(ctx context.Context, toolID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, clearSessions, toolID)
	if err != nil {
		return 0, session.NewStoreError(backend, "clear", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ToolIDs implements session.Store.
func (s *SQLiteStore) ToolIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, selectToolIDs); err != nil {
		return nil, session.NewStoreError(backend, "tool_ids", err)
	}
	return ids, nil
}

// CleanupOldSessions implements session.Store. Both phases run in one
// transaction.
func (s *SQLiteStore) CleanupOldSessions(ctx context.Context, toolID string, maxCount, maxAgeDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, session.NewStoreError(backend, "cleanup_begin", err)
	}
	defer tx.Rollback()

	var deleted int64

	// Phase 1: idle sessions
	if maxAgeDays > 0 {
		cutoff := s.config.Now().Unix() - int64(maxAgeDays)*86400
		res, err := tx.ExecContext(ctx, deleteIdleSessions, toolID, cutoff)
		if err != nil {
			return 0, session.NewStoreError(backend, "cleanup_age", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	// Phase 2: least recently seen beyond the cap
	if maxCount > 0 {
		var count int64
		if err := tx.GetContext(ctx, &count, countSessions, toolID); err != nil {
			return 0, session.NewStoreError(backend, "cleanup_count", err)
		}
		if excess := count - int64(maxCount); excess > 0 {
			res, err := tx.ExecContext(ctx, deleteOldestSessions, toolID, excess)
			if err != nil {
				return 0, session.NewStoreError(backend, "cleanup_excess", err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, session.NewStoreError(backend, "cleanup_commit", err)
	}

	if deleted > 0 {
		s.logger.Info("sessions cleaned up",
			"tool_id", toolID,
			"deleted", deleted,
			"max_count", maxCount,
			"max_age_days", maxAgeDays,
		)
	}
	return deleted, nil
}

// Ping checks that the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.PingContext(ctx); err != nil {
		return session.NewStoreError(backend, "ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return session.NewStoreError(backend, "close", err)
	}
	return nil
}
