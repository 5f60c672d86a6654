package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// FileSource loads the catalog from a local JSON file (an array of
// {id, name, value, limit} records). Watch delivers a fresh Index
// whenever the file is rewritten, so long-running callers can pick up
// catalog refreshes without restarting.
type FileSource struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	updates chan *Index
	stop    chan struct{}
}

// NewFileSource creates a catalog source backed by a JSON file.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{
		path:    path,
		logger:  logger,
		updates: make(chan *Index, 1),
		stop:    make(chan struct{}),
	}
}

// Load reads and indexes the catalog file.
func (s *FileSource) Load(ctx context.Context) (*Index, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", s.path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog file %s contained no items", s.path)
	}

	return NewIndex(items), nil
}

// Watch begins watching the catalog file and sends a new Index on the
// Updates channel after each successful reload. Unreadable or invalid
// rewrites are logged and skipped; the previous snapshot stays valid.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	s.watcher = watcher

	// Watch the parent directory: editors and atomic writers replace
	// the file, which drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching catalog directory: %w", err)
	}

	go s.processEvents(ctx)
	return nil
}

// Updates returns the channel carrying reloaded snapshots.
func (s *FileSource) Updates() <-chan *Index {
	return s.updates
}

// Stop stops the watcher and releases its resources.
func (s *FileSource) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	}
}

func (s *FileSource) processEvents(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			idx, err := s.Load(ctx)
			if err != nil {
				s.logger.Warn("catalog reload failed, keeping previous snapshot",
					zap.String("path", s.path), zap.Error(err))
				continue
			}
			s.logger.Info("catalog reloaded",
				zap.String("path", s.path), zap.Int("items", idx.Len()))
			select {
			case s.updates <- idx:
			default:
				// Consumer lagging: drop the stale pending snapshot
				// and queue the newest one.
				select {
				case <-s.updates:
				default:
				}
				s.updates <- idx
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

var _ Source = (*FileSource)(nil)
