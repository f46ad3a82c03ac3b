package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Source owns the settings file. It keeps the last parsed document and
// notifies subscribers whenever the file content changes.
type Source struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	current  Settings
	loaded   bool
	raw      []byte
	parseErr error
	subs     []func()
}

// NewSource returns a Source for path. Call Load before reading from it.
func NewSource(path string, log *slog.Logger) *Source {
	return &Source{path: path, log: log, current: Default()}
}

// Path returns the settings file path.
func (s *Source) Path() string { return s.path }

// Load reads and parses the settings file. A missing file yields the
// defaults. It reports whether the content differs from the previous load.
func (s *Source) Load() (changed bool, err error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		raw, err = nil, nil
	}
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && bytes.Equal(raw, s.raw) && s.parseErr == nil {
		return false, nil
	}
	s.loaded = true
	s.raw = raw

	next := Default()
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &next); err != nil {
			s.parseErr = fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
			return true, s.parseErr
		}
	}
	s.current = next
	s.parseErr = nil
	return true, nil
}

// Current returns the last good settings, or the parse error when the file
// on disk is currently malformed.
func (s *Source) Current() (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.parseErr != nil {
		return Settings{}, s.parseErr
	}
	return s.current, nil
}

// Save writes st to the settings file. Watchers pick the write up as a
// regular change.
func (s *Source) Save(st Settings) error {
	out, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Subscribe registers fn to run after every content change seen by Watch.
func (s *Source) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Watch blocks until ctx is cancelled, reloading the file whenever it is
// written, created or renamed into place. The parent directory is watched
// because editors usually replace the file rather than write it in place.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(s.path)
	s.log.Debug("watching settings", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			changed, err := s.Load()
			if err != nil {
				s.log.Warn("settings reload failed", "error", err)
			}
			if changed {
				s.log.Info("settings changed", "path", s.path)
				s.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("settings watcher error", "error", err)
		}
	}
}

func (s *Source) notify() {
	s.mu.RLock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
