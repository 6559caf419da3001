package capability

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefinitionWatcher reloads the definitions directory when files change,
// debouncing bursts of filesystem events.
type DefinitionWatcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	dir      string
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	timerMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDefinitionWatcher starts watching dir for definition changes
func NewDefinitionWatcher(registry *Registry, dir string, logger zerolog.Logger) (*DefinitionWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dw := &DefinitionWatcher{
		watcher:  watcher,
		registry: registry,
		dir:      dir,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go dw.run()

	return dw, nil
}

// Stop stops the watcher
func (dw *DefinitionWatcher) Stop() error {
	var err error
	dw.stopOnce.Do(func() {
		close(dw.stopCh)
		err = dw.watcher.Close()
	})
	return err
}

func (dw *DefinitionWatcher) run() {
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				dw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Definition change detected")

				dw.scheduleReload()
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Error().Err(err).Msg("Definition watcher error")

		case <-dw.stopCh:
			return
		}
	}
}

func (dw *DefinitionWatcher) scheduleReload() {
	dw.timerMu.Lock()
	defer dw.timerMu.Unlock()

	if dw.timer != nil {
		dw.timer.Stop()
	}

	dw.timer = time.AfterFunc(dw.debounce, func() {
		if _, err := dw.registry.LoadDirectory(dw.dir); err != nil {
			dw.logger.Error().Err(err).Msg("Definition reload failed")
		}
	})
}
