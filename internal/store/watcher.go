package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the decrypted store file for rewrites and triggers
// a callback after a debounce period. Decryption tools replace the
// database in bursts (main file, then -wal, then -shm), so events are
// coalesced rather than forwarded one by one.
type Watcher struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
	debounce time.Duration
	mu       sync.Mutex
	pending  time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher creates a watcher over the store file at path. onChange
// fires once per burst of writes, after debounce has elapsed with no
// further activity.
func NewWatcher(
	path string, debounce time.Duration, onChange func(),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the parent directory: tools that swap the database in
	// with a rename never emit events on the file's own watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching store directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsw,
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	return w, nil
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("store watcher error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent records activity touching the store file or its WAL
// sidecars.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !strings.HasPrefix(event.Name, w.path) {
		return
	}

	w.mu.Lock()
	w.pending = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || w.now().Sub(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	log.Debug("store file changed, notifying")
	w.onChange()
}
