package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDebounce coalesces bursts of writes to the archive file.
const ReloadDebounce = 250 * time.Millisecond

// WatchArchive re-selects the current archive whenever its file is
// rewritten on disk. It blocks until ctx is cancelled. The directory is
// watched rather than the file so atomic rename-over saves are seen. When
// another archive is selected while watching, the watch moves to it.
//
// onReload, when non-nil, is called after every reload attempt.
func (s *Session) WatchArchive(ctx context.Context, onReload func(error)) error {
	target := absPath(s.ArchivePath())
	if target == "" {
		return fmt.Errorf("watch archive: no archive selected")
	}
	swapped := s.archiveSwapped()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	sessionLog.Info("archive_watch_started", slog.String("session", s.id), slog.String("path", target))

	var (
		debounceTimer *time.Timer
		timerMu       sync.Mutex
	)
	stopTimer := func() {
		timerMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
			debounceTimer = nil
		}
		timerMu.Unlock()
	}
	defer stopTimer()

	reload := func(path string) {
		if ctx.Err() != nil {
			return
		}
		attempted, err := s.reloadArchive(ctx, path)
		if !attempted {
			return
		}
		if err != nil {
			sessionLog.Warn("archive_reload_failed",
				slog.String("session", s.id),
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			sessionLog.Info("archive_reloaded", slog.String("session", s.id), slog.String("path", path))
		}
		if onReload != nil {
			onReload(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-swapped:
			swapped = s.archiveSwapped()
			current := absPath(s.ArchivePath())
			if current == "" || current == target {
				continue
			}
			stopTimer()
			if newDir := filepath.Dir(current); newDir != dir {
				if err := watcher.Add(newDir); err != nil {
					sessionLog.Warn("archive_watch_error",
						slog.String("path", current),
						slog.String("error", err.Error()))
					continue
				}
				if err := watcher.Remove(dir); err != nil {
					sessionLog.Debug("archive_unwatch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
				}
				dir = newDir
			}
			target = current
			sessionLog.Info("archive_watch_moved", slog.String("session", s.id), slog.String("path", target))

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			path := target
			timerMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(ReloadDebounce, func() { reload(path) })
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sessionLog.Warn("archive_watch_error", slog.String("error", err.Error()))
		}
	}
}

// absPath returns p made absolute, or p unchanged when that fails.
func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
