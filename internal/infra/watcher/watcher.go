// Package watcher keeps the library honest about files deleted from the
// media directory outside the application: the matching media record loses
// its path so the next refresh re-downloads it.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"localtube/internal/domain"
	"localtube/internal/ports"
)

type Watcher struct {
	mediaDir string
	store    ports.Store
	log      zerolog.Logger
}

func New(mediaDir string, store ports.Store, log zerolog.Logger) *Watcher {
	return &Watcher{mediaDir: mediaDir, store: store, log: log}
}

// Run watches the media tree until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := os.MkdirAll(w.mediaDir, 0o755); err != nil {
		return err
	}
	if err := w.addTree(fsw, w.mediaDir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("media watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch new directory")
			}
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		rel, err := filepath.Rel(w.mediaDir, event.Name)
		if err != nil {
			return
		}
		media, err := w.store.FindMediaByPath(ctx, rel)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			w.log.Warn().Err(err).Str("path", rel).Msg("media lookup failed")
			return
		}
		w.log.Info().Str("media", media.ID).Str("path", rel).
			Msg("media file removed externally, clearing path")
		if err := w.store.ClearMediaPath(ctx, media.ID); err != nil {
			w.log.Warn().Err(err).Str("media", media.ID).Msg("failed to clear media path")
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
