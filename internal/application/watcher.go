package application

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/requiemdev/requiem/internal/store"
)

// debounceDuration coalesces bursts of filesystem events (editors write,
// rename, and chmod in quick succession) into a single reload.
const debounceDuration = 500 * time.Millisecond

// watcher reloads the store whenever requirement files change on disk, so
// that edits made in an external editor show up in the API without a restart.
type watcher struct {
	store   *store.Store
	logger  *zap.Logger
	fs      *fsnotify.Watcher
	done    chan struct{}
	closers sync.Once

	mu            sync.Mutex
	debounceTimer *time.Timer
}

func newWatcher(s *store.Store, logger *zap.Logger) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(s.Root()); err != nil {
		_ = fs.Close()
		return nil, err
	}

	w := &watcher{
		store:  s,
		logger: logger,
		fs:     fs,
		done:   make(chan struct{}),
	}
	go w.loop()

	logger.Info("watching requirements directory", zap.String("path", s.Root()))
	return w, nil
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("requirement file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			w.scheduleReload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("directory watcher error", zap.Error(err))
		}
	}
}

// relevant reports whether the event concerns a requirement document. Dot
// files are skipped because atomic writes go through hidden temp files in
// the same directory.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".md")
}

// scheduleReload resets the debounce timer so rapid event bursts trigger a
// single reload once the directory settles.
func (w *watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceDuration, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.store.Reload(); err != nil {
			w.logger.Error("failed to reload requirements", zap.Error(err))
			return
		}
		w.logger.Info("requirements reloaded", zap.Int("count", w.store.Len()))
	})
}

func (w *watcher) Close() error {
	var err error
	w.closers.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}
