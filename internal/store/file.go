package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
)

var recordExts = []string{".yaml", ".yml", ".json"}

// FileStore keeps one file per record in a directory. New records are
// written in the store's format; existing records are read in whichever
// format their extension names.
type FileStore struct {
	dir    string
	format codec.Format
	logger *slog.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, format codec.Format, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, format: format, logger: logger}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Save(ctx context.Context, name string, rec codec.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	data, err := codec.Marshal(rec, s.format)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name+"."+string(s.format))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file store: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file store: commit %s: %w", name, err)
	}
	// Drop copies of the record kept in another format.
	for _, ext := range recordExts {
		if other := filepath.Join(s.dir, name+ext); other != path {
			_ = os.Remove(other)
		}
	}
	s.logger.Debug("record saved", "store", "file", "name", name, "nodes", len(rec.Nodes))
	return nil
}

func (s *FileStore) Load(ctx context.Context, name string) (codec.Record, error) {
	if err := ctx.Err(); err != nil {
		return codec.Record{}, err
	}
	path, err := s.find(name)
	if err != nil {
		return codec.Record{}, err
	}
	return codec.ReadFile(path)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list: %w", err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := recordName(e.Name())
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.find(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("file store: delete %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) find(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	for _, ext := range recordExts {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file store: stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%q: %w", name, ErrNotFound)
}

// recordName strips a record extension from a file name.
func recordName(file string) (string, bool) {
	ext := filepath.Ext(file)
	for _, known := range recordExts {
		if strings.EqualFold(ext, known) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}

// Watch calls fn with the record name whenever a record file in the
// directory is written or created. Call the returned stop function to clean up.
func (s *FileStore) Watch(fn func(name string)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("file store watcher add %s: %w", s.dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if name, ok := recordName(filepath.Base(ev.Name)); ok {
					fn(name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("file store watcher error", "dir", s.dir, "err", err)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
