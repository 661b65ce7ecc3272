package receipt

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher calls OnChange after the receipt file is written or replaced.
// Bursts of events are collapsed into a single call.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	logger   zerolog.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory holding path, since receipt updates are
// usually delivered by rename and a watch on the file itself would be lost.
func NewWatcher(path string, debounce time.Duration, logger zerolog.Logger, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.loop()
	w.logger.Info().Str("path", w.path).Msg("Watching receipt file for changes")
	return nil
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		_ = w.watcher.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.logger.Debug().Str("event", event.Op.String()).Msg("Detected receipt change")
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Receipt watcher error")
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopChan:
			return
		default:
		}
		w.onChange()
	})
}
