// Package watcher turns saves of a single file into content snapshots.
// It does not debounce; the preview scheduler downstream does that.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/logging"
)

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Snapshot is the file content after a change.
type Snapshot struct {
	Type    EventType
	Path    string
	Text    string
	ModTime time.Time
}

// ChangeHandler receives snapshots in the order the file changed.
type ChangeHandler func(Snapshot) error

// FileWatcher watches one file. The parent directory is what fsnotify
// watches, so editors that save by writing a temporary file and renaming
// it over the original keep being followed.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  logging.Logger

	mutex    sync.RWMutex
	handlers []ChangeHandler

	last     string
	haveLast bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a watcher for path, which must be a regular file.
func NewFileWatcher(path string, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, sowerrors.NewIOError(sowerrors.ErrCodeStorageFailed, "cannot watch "+path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeValidationFailed, path+" is not a regular file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher: w,
		path:    abs,
		logger:  logger.WithComponent("watcher").With("file", abs),
		done:    make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (fw *FileWatcher) Path() string { return fw.path }

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Read returns the current content and records it as the last seen
// snapshot, so an unchanged save after Read is not reported.
func (fw *FileWatcher) Read() (Snapshot, error) {
	snap, err := fw.read(EventTypeModified)
	if err != nil {
		return Snapshot{}, err
	}
	fw.mutex.Lock()
	fw.last, fw.haveLast = snap.Text, true
	fw.mutex.Unlock()
	return snap, nil
}

func (fw *FileWatcher) read(t EventType) (Snapshot, error) {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Type: t, Path: fw.path, Text: string(data)}
	if info, err := os.Stat(fw.path); err == nil {
		snap.ModTime = info.ModTime()
	}
	return snap, nil
}

// Start begins watching. The loop ends when ctx is cancelled or Stop is
// called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return sowerrors.NewIOError(sowerrors.ErrCodeStorageFailed, "cannot watch directory", err)
	}
	go fw.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
		close(fw.done)
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	// Siblings in the directory, swap files included, are ignored.
	if filepath.Clean(event.Name) != fw.path {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		return
	}

	if eventType == EventTypeDeleted || eventType == EventTypeRenamed {
		// Usually the first half of an atomic save; the Create follows.
		fw.logger.Debug(ctx, "file moved away", "op", eventType.String())
		return
	}

	snap, err := fw.read(eventType)
	if err != nil {
		fw.logger.Warn(ctx, err, "cannot read changed file")
		return
	}

	fw.mutex.Lock()
	if fw.haveLast && fw.last == snap.Text {
		fw.mutex.Unlock()
		return
	}
	fw.last, fw.haveLast = snap.Text, true
	handlers := fw.handlers
	fw.mutex.Unlock()

	for _, handler := range handlers {
		if err := handler(snap); err != nil {
			fw.logger.Warn(ctx, err, "change handler failed")
		}
	}
}
