package prefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore keeps preferences in a YAML file. A missing file yields Defaults()
// and fields absent from the file keep their default values.
// The last successfully loaded preferences are kept when a later read fails
// validation.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current Preferences
	loaded  bool
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("prefs")}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load returns the cached preferences, reading the file on first use.
func (s *FileStore) Load(ctx context.Context) (Preferences, error) {
	s.mu.RLock()
	if s.loaded {
		p := s.current
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	return s.Reload()
}

// Reload reads the file again. On error the cached value is left untouched.
func (s *FileStore) Reload() (Preferences, error) {
	p, err := readFile(s.path)
	if err != nil {
		return Preferences{}, err
	}

	s.mu.Lock()
	s.current = p
	s.loaded = true
	s.mu.Unlock()
	return p, nil
}

// Save validates p and writes it atomically.
func (s *FileStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("prefs: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("prefs: replace %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.current = p
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it changes and calls onChange (may be nil)
// with the new preferences. A reload that fails is logged and the previous
// preferences stay active. Watch blocks until ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func(Preferences)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file's inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	target := filepath.Clean(s.path)

	s.logger.Info("prefs_watch_started", zap.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			p, err := s.Reload()
			if err != nil {
				s.logger.Error("prefs_reload_failed", zap.String("path", s.path), zap.Error(err))
				continue
			}
			s.logger.Info("prefs_reloaded", zap.String("path", s.path))
			if onChange != nil {
				onChange(p)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("prefs_watcher_error", zap.Error(err))
		}
	}
}

func readFile(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: read %s: %w", path, err)
	}

	p := Defaults()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("prefs: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	return p, nil
}
