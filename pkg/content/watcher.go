package content

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const debounceInterval = 200 * time.Millisecond

// Watcher logs edits to the data directory. It never caches or reloads anything;
// it only makes content changes visible in the server log.
type Watcher struct {
	dir    string
	logger zerolog.Logger

	// OnChange, when set, is called with the base name of a changed file.
	OnChange func(name string)

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

func NewWatcher(dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		logger: logger.With().Str("component", "content_watcher").Logger(),
		timers: map[string]*time.Timer{},
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fsnotify watcher")
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watch %s", w.dir)
	}
	w.logger.Info().Str("dir", w.dir).Msg("watching content directory")

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.debounce(filepath.Base(ev.Name), ev.Op)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("content watcher error")
		}
	}
}

func (w *Watcher) debounce(name string, op fsnotify.Op) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(debounceInterval, func() {
		w.timerMu.Lock()
		delete(w.timers, name)
		w.timerMu.Unlock()

		w.logger.Info().Str("file", name).Str("op", op.String()).Msg("content file changed, next turn uses it")
		if w.OnChange != nil {
			w.OnChange(name)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}
