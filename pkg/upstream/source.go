package upstream

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 200 * time.Millisecond

// FileSource serves GlobalConfig snapshots loaded from a file and reloads
// them when the file changes. Snapshots are immutable; a reload replaces the
// pointer and notifies the registered listeners.
type FileSource struct {
	path     string
	debounce time.Duration

	snapshot atomic.Pointer[GlobalConfig]

	mu        sync.Mutex
	listeners []func(*GlobalConfig)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	wg        sync.WaitGroup

	logger *slog.Logger
}

// NewFileSource loads the file once. Call Watch to follow changes.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   slog.Default().With("component", "upstream.source"),
	}

	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(cfg)

	s.logger.Info("global config loaded",
		"path", s.path,
		"tools", len(cfg.Upstreams),
		"network_proxy", cfg.Settings.Active(),
	)
	return s, nil
}

// Path returns the watched file.
func (s *FileSource) Path() string {
	return s.path
}

// Snapshot returns the current configuration.
func (s *FileSource) Snapshot() *GlobalConfig {
	return s.snapshot.Load()
}

// Default implements the global lookup of the route resolver.
func (s *FileSource) Default(toolID string) (Credentials, bool) {
	return s.Snapshot().Default(toolID)
}

// Profile implements the profile lookup of the route resolver.
func (s *FileSource) Profile(toolID, name string) (Credentials, bool) {
	return s.Snapshot().Profile(toolID, name)
}

// OnChange registers fn to be called after every successful reload.
func (s *FileSource) OnChange(fn func(*GlobalConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload reads the file again. On a parse error the previous snapshot stays
// in place and the error is returned.
func (s *FileSource) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.snapshot.Store(cfg)

	s.mu.Lock()
	listeners := append([]func(*GlobalConfig){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}

	s.logger.Info("global config reloaded",
		"path", s.path,
		"tools", len(cfg.Upstreams),
	)
	return nil
}

// Watch starts following the file. The parent directory is watched since
// the file may not exist yet and editors often replace it on save.
func (s *FileSource) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = w
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.watchLoop(w, s.stopCh)

	s.logger.Debug("watching global config", "path", s.path)
	return nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	s.mu.Lock()
	w := s.watcher
	stop := s.stopCh
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	close(stop)
	err := w.Close()
	s.wg.Wait()
	return err
}

func (s *FileSource) watchLoop(w *fsnotify.Watcher, stop <-chan struct{}) {
	defer s.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				if err := s.Reload(); err != nil {
					s.logger.Warn("global config reload failed, keeping previous snapshot",
						"path", s.path,
						"error", err,
					)
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("global config watcher error", "error", err)
		}
	}
}
