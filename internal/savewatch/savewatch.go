// Package savewatch observes the engine save directory and reports
// autosave files as the engine writes them. It is observability only;
// nothing in the restore path depends on it.
package savewatch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"pkt.systems/factorioctl/internal/archive"
)

// Watcher reports newly created autosave files in a save directory.
type Watcher struct {
	fs     *fsnotify.Watcher
	dir    string
	logger pslog.Logger
	events chan string
}

// New starts watching dir. Call Run to drain events and Close when done.
func New(dir string, logger pslog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{
		fs:     fs,
		dir:    dir,
		logger: logger,
		events: make(chan string, 10),
	}, nil
}

// Events yields base names of autosave files as they appear. The channel
// is closed when Run returns.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run consumes filesystem notifications until ctx is cancelled or the
// underlying watcher closes. Events the channel consumer cannot keep up
// with are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	log := w.log(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.Contains(name, archive.AutosaveMarker) {
				continue
			}
			log.Info("autosave written", "name", name, "dir", w.dir)
			select {
			case w.events <- name:
			default:
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn("save watch error", "err", err)
		}
	}
}

// Close stops the underlying filesystem watcher, which makes Run return.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) log(ctx context.Context) pslog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return pslog.Ctx(ctx)
}
