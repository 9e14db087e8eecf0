package setupvars

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes a settings source when its file changes on disk.  The
// parent directory is watched rather than the file itself, since appliance
// tooling rewrites the file by rename.
type Watcher struct {
	logger  *slog.Logger
	src     *Source
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for src.  Call Start to begin watching.
func NewWatcher(logger *slog.Logger, src *Source) (w *Watcher, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("setupvars: creating watcher: %w", err)
	}

	return &Watcher{
		logger:  logger,
		src:     src,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the settings file's directory.
func (w *Watcher) Start(ctx context.Context) (err error) {
	err = w.watcher.Add(filepath.Dir(w.src.path))
	if err != nil {
		return fmt.Errorf("setupvars: watching %q: %w", w.src.path, err)
	}

	go w.run(ctx)

	return nil
}

// Shutdown stops the watcher.
func (w *Watcher) Shutdown(_ context.Context) (err error) {
	err = w.watcher.Close()
	<-w.done

	return err
}

// run handles file system events until the watcher is closed.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.ErrorContext(ctx, "watching settings", slogutil.KeyError, err)
		}
	}
}

// handleEvent refreshes the source when the settings file itself was written
// or replaced.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Name != w.src.path {
		return
	}

	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}

	w.logger.DebugContext(ctx, "settings changed; refreshing", "path", ev.Name)

	err := w.src.Refresh()
	if err != nil {
		w.logger.ErrorContext(ctx, "refreshing settings", slogutil.KeyError, err)
	}
}
