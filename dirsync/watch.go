package dirsync

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs SyncFolder once, then again every time the local tree
// changes and stays quiet for the debounce delay. New subdirectories are
// watched as they appear when recursive is set.
//
// Watch returns nil when ctx is done, or the watcher error that stopped it.
// Failed passes are logged and reported to the pass handler; they do not
// stop the watch.
func (s *Syncer) Watch(ctx context.Context, localDir, remoteRel string, fromStreamingAssets, recursive bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.addWatches(watcher, localDir, recursive); err != nil {
		return err
	}
	s.logger.Info("watch_started", "local_dir", localDir, "remote_dir", remoteRel)

	pass := func() {
		report, err := s.SyncFolder(ctx, localDir, remoteRel, fromStreamingAssets, recursive)
		if err != nil {
			s.logger.Warn("sync_failed", "local_dir", localDir, "error", err)
		}
		if s.onPass != nil {
			s.onPass(report, err)
		}
	}
	pass()

	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if recursive && ev.Has(fsnotify.Create) {
				if err := s.addWatches(watcher, ev.Name, true); err != nil {
					s.logger.Debug("watch add failed", "path", ev.Name, "error", err)
				}
			}
			s.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)

		case <-timer.C:
			pass()
		}
	}
}

// addWatches watches root, and its subdirectories when recursive is set.
// A root that is not a directory is ignored.
func (s *Syncer) addWatches(watcher *fsnotify.Watcher, root string, recursive bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
