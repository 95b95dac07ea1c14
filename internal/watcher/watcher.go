package watcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/codetrail/collector/internal/adapters"
	"github.com/codetrail/collector/internal/domain"
)

// Watcher tails live log files for changes and turns appended content
// into canonical events through the adapter registry.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	registry  *adapters.Registry
	events    chan *domain.Event
	debounce  time.Duration
	log       *zap.Logger

	mu         sync.Mutex
	roots      map[string]adapters.Adapter // watched path -> adapter
	offsets    map[string]int64            // file -> bytes already consumed
	debouncers map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds watcher configuration.
type Config struct {
	Registry       *adapters.Registry
	EventQueueSize int
	DebounceMs     int
	Logger         *zap.Logger
}

// New creates a file system watcher.
func New(cfg Config) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 1000
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsWatcher:  fsWatcher,
		registry:   cfg.Registry,
		events:     make(chan *domain.Event, cfg.EventQueueSize),
		debounce:   time.Duration(cfg.DebounceMs) * time.Millisecond,
		log:        cfg.Logger,
		roots:      make(map[string]adapters.Adapter),
		offsets:    make(map[string]int64),
		debouncers: make(map[string]*time.Timer),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Events returns the bounded queue of parsed events.
func (w *Watcher) Events() <-chan *domain.Event {
	return w.events
}

// Start begins processing file system notifications.
func (w *Watcher) Start() {
	w.log.Info("Starting file watcher")
	go w.loop()
}

// Stop cancels processing and closes the notification source. In-flight
// emission drains; no new file events are accepted.
func (w *Watcher) Stop() error {
	w.log.Info("Stopping file watcher")
	w.cancel()
	return w.fsWatcher.Close()
}

// Watch adds a file or directory (recursively) for the given adapter.
func (w *Watcher) Watch(path string, adapter adapters.Adapter) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.roots[path]; ok {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	w.roots[path] = adapter

	if !info.IsDir() {
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch file: %w", err)
		}
		// Start tailing at the current end so only new content is
		// emitted by the live pipeline.
		w.offsets[path] = info.Size()
		w.log.Info("Watching file", zap.String("path", path))
		return nil
	}

	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsWatcher.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	w.log.Info("Watching directory", zap.String("path", path))
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// A directory created under a watched root must be
					// watched itself, or files written inside it later
					// would go unseen.
					if err := w.fsWatcher.Add(event.Name); err != nil {
						w.log.Warn("Failed to watch new directory",
							zap.String("path", event.Name),
							zap.Error(err))
					}
					continue
				}
			}
			w.scheduleParse(event.Name)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("File watcher error", zap.Error(err))
		}
	}
}

// scheduleParse debounces rapid successive notifications for one path
// before re-parsing it.
func (w *Watcher) scheduleParse(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debouncers[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.debouncers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debouncers, path)
		w.mu.Unlock()

		w.handleChange(path)
	})
}

func (w *Watcher) handleChange(path string) {
	adapter := w.adapterFor(path)
	if adapter == nil {
		return
	}

	if adapter.WholeFile() {
		events, err := adapter.ParseFile(path)
		if err != nil {
			w.log.Warn("Failed to parse changed file",
				zap.String("path", path),
				zap.Error(err))
			return
		}
		for _, event := range events {
			w.emit(event)
		}
		return
	}

	if err := w.tailLines(path, adapter); err != nil {
		w.log.Warn("Failed to tail changed file",
			zap.String("path", path),
			zap.Error(err))
	}
}

// tailLines parses only the content appended since the last read.
func (w *Watcher) tailLines(path string, adapter adapters.Adapter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	w.mu.Lock()
	offset := w.offsets[path]
	w.mu.Unlock()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() < offset {
		// Truncated or rotated; start over from the beginning.
		offset = 0
	}

	if _, err := file.Seek(offset, 0); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1

		event, err := adapter.ParseLine(line)
		if err != nil || event == nil {
			continue
		}
		w.emit(event)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	w.mu.Lock()
	w.offsets[path] = offset
	w.mu.Unlock()

	return nil
}

// adapterFor matches a changed file to the adapter of the watched root
// containing it.
func (w *Watcher) adapterFor(path string) adapters.Adapter {
	w.mu.Lock()
	defer w.mu.Unlock()

	if adapter, ok := w.roots[path]; ok {
		return adapter
	}

	for root, adapter := range w.roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return adapter
		}
	}

	return nil
}

func (w *Watcher) emit(event *domain.Event) {
	select {
	case w.events <- event:
	case <-w.ctx.Done():
	default:
		w.log.Warn("Event queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("agent", event.AgentID))
	}
}
