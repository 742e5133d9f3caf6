// Package watcher reports capture files that changed in watched directories.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/penwyp/go-usbll2sr/internal/data/scanner"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// DefaultDebounce is how long a capture must stay quiet before it is
// reported. Capture tools write in bursts.
const DefaultDebounce = 500 * time.Millisecond

// FileEvent is a capture that was written or created and has since settled.
type FileEvent struct {
	Path      string
	Operation string
	At        time.Time
}

type FileWatcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	events   chan FileEvent
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileWatcher watches paths, and every directory below them, for
// capture files. A zero debounce uses DefaultDebounce.
func NewFileWatcher(paths []string, debounce time.Duration) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw := &FileWatcher{
		watcher:  watcher,
		paths:    paths,
		events:   make(chan FileEvent, 100),
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	for _, path := range paths {
		if err := fw.addPath(path); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	fw.wg.Add(1)
	go fw.processEvents()

	return fw, nil
}

func (fw *FileWatcher) addPath(path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			util.LogDebugf("Watching %s", p)
			return fw.watcher.Add(p)
		}
		return nil
	})
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			util.LogError("File monitoring error: " + err.Error())

		case <-fw.done:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addPath(event.Name); err != nil {
				util.LogWarnf("Failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if !scanner.IsCaptureFile(event.Name) {
		return
	}
	fw.schedule(event.Name, event.Op.String())
}

// schedule (re)arms the quiet timer for path.
func (fw *FileWatcher) schedule(path, op string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return
	}

	if t, ok := fw.pending[path]; ok {
		t.Stop()
	}
	fw.pending[path] = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		delete(fw.pending, path)
		if fw.closed {
			fw.mu.Unlock()
			return
		}
		// Close waits for this send before closing events.
		fw.wg.Add(1)
		fw.mu.Unlock()
		defer fw.wg.Done()

		select {
		case fw.events <- FileEvent{Path: path, Operation: op, At: time.Now()}:
		case <-fw.done:
		}
	})
}

// Events delivers settled capture files. It is closed by Close.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	for path, t := range fw.pending {
		t.Stop()
		delete(fw.pending, path)
	}
	close(fw.done)
	fw.mu.Unlock()

	err := fw.watcher.Close()
	fw.wg.Wait()
	close(fw.events)
	return err
}
