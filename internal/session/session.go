// Package session binds one archive store, one search index, one preload
// scheduler and an optional repository into the operations a front end
// calls. Sessions are independent; nothing here is process-global except
// the cached user config.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
	"github.com/asheshgoplani/pr-viewer/internal/archive"
	"github.com/asheshgoplani/pr-viewer/internal/git"
	"github.com/asheshgoplani/pr-viewer/internal/logging"
	"github.com/asheshgoplani/pr-viewer/internal/preload"
	"github.com/asheshgoplani/pr-viewer/internal/search"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// Options configures a Session.
type Options struct {
	// WorkspaceDir is the parent of extraction workspaces. Empty means the
	// system temp directory.
	WorkspaceDir string
	Search       search.Options
	Preload      preload.Options
	// DisablePreload turns off background warming after searches.
	DisablePreload bool
}

// DefaultOptions builds Options from the user config.
func DefaultOptions() Options {
	popts, enabled := GetPreloadOptions()
	return Options{
		WorkspaceDir:   ResolveDefaults("", "", "").WorkspaceDir,
		Search:         GetSearchOptions(),
		Preload:        popts,
		DisablePreload: !enabled,
	}
}

// Session is the explicitly owned state behind every front-end operation.
type Session struct {
	id   string
	opts Options

	// mu makes archive swaps total: readers hold it shared, SetArchive
	// holds it exclusively while the store, index and preload cache change.
	mu        sync.RWMutex
	store     *archive.Store
	index     *search.Index
	scheduler *preload.Scheduler
	// swapped is closed and replaced after every successful SetArchive.
	swapped chan struct{}

	imagesMu sync.RWMutex
	images   *archive.Store

	repoMu sync.RWMutex
	repo   *git.Repo
}

// New creates an empty session.
func New(opts Options) *Session {
	store := archive.NewStore(opts.WorkspaceDir)
	s := &Session{
		id:        uuid.NewString(),
		opts:      opts,
		store:     store,
		index:     search.New(opts.Search),
		scheduler: preload.New(store, opts.Preload),
		swapped:   make(chan struct{}),
	}
	sessionLog.Debug("session_created", slog.String("session", s.id))
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// ArchivePath returns the current archive path, or "".
func (s *Session) ArchivePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Path()
}

// SetArchive opens path, validates its index and rebuilds search. The new
// archive and its search snapshot are both prepared before either is
// installed, so on failure the previous archive, index and preload cache
// stay active.
func (s *Session) SetArchive(ctx context.Context, path string) ([]archive.PrIndexEntry, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setArchiveLocked(ctx, path, start)
}

// reloadArchive re-selects path only while it is still the current archive,
// so a reload queued for a file the user has since moved away from is
// dropped. It reports whether a reload was attempted.
func (s *Session) reloadArchive(ctx context.Context, path string) (bool, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if current := absPath(s.store.Path()); current != path {
		sessionLog.Debug("archive_reload_skipped",
			slog.String("session", s.id),
			slog.String("path", path),
			slog.String("current", current))
		return false, nil
	}
	_, err := s.setArchiveLocked(ctx, path, start)
	return true, err
}

func (s *Session) setArchiveLocked(ctx context.Context, path string, start time.Time) ([]archive.PrIndexEntry, error) {
	pending, err := s.store.Prepare(path)
	if err != nil {
		sessionLog.Warn("set_archive_failed",
			slog.String("session", s.id),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, err
	}

	staged, err := s.index.Build(ctx, pending.Entries())
	if err != nil {
		pending.Discard()
		sessionLog.Error("index_rebuild_failed",
			slog.String("session", s.id),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.scheduler.Invalidate()
	s.store.Install(pending)
	s.index.Install(staged)
	close(s.swapped)
	s.swapped = make(chan struct{})

	entries := pending.Entries()
	sessionLog.Info("archive_selected",
		slog.String("session", s.id),
		slog.String("path", path),
		slog.Int("prs", len(entries)),
		slog.Duration("elapsed", time.Since(start)))
	return entries, nil
}

// archiveSwapped returns a channel that is closed by the next successful
// SetArchive.
func (s *Session) archiveSwapped() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.swapped
}

// ListEntries returns every entry name of the current archive.
func (s *Session) ListEntries() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.ListEntries()
}

// ReadFile returns text content, checking the preload cache, then the
// store's content cache, then the archive.
func (s *Session) ReadFile(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if text, ok := s.scheduler.Get(path); ok {
		logging.Aggregate(logging.CompPreload, "preload_hit")
		return text, nil
	}
	return s.store.ReadText(path)
}

// ReadBinaryFile returns raw entry bytes.
func (s *Session) ReadBinaryFile(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.ReadBinary(path)
}

// ExtractFile materializes an entry on disk and returns its location.
func (s *Session) ExtractFile(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.ExtractToWorkspace(path)
}

// IndexDocument returns the parsed PR index of the current archive.
func (s *Session) IndexDocument() ([]archive.PrIndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.IndexDocument()
}

// Search resolves query and starts warming the results' content files.
func (s *Session) Search(ctx context.Context, query string) ([]archive.PrIndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.index.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if !s.opts.DisablePreload && len(results) > 0 {
		n := min(len(results), s.scheduler.Limit())
		paths := make([]string, 0, n)
		for _, e := range results[:n] {
			if e.Filename == "" {
				continue
			}
			paths = append(paths, s.store.ContentPath(e))
		}
		s.scheduler.Start(paths)
	}
	return results, nil
}

// SearchReady reports whether the search index has been built for the
// current archive.
func (s *Session) SearchReady() bool {
	return s.index.IsInitialized()
}

// PreloadCached reports whether path is in the preload cache.
func (s *Session) PreloadCached(path string) bool {
	_, ok := s.scheduler.Get(path)
	return ok
}

// WaitPreload blocks until background preloads finish.
func (s *Session) WaitPreload() {
	s.scheduler.Wait()
}

// Stats returns the archive store counters.
func (s *Session) Stats() archive.Stats {
	return s.store.Stats()
}

// SetImagesArchive opens a second archive holding PR images. Unlike the PR
// archive it needs no index document.
func (s *Session) SetImagesArchive(path string) error {
	store := archive.NewStore(s.opts.WorkspaceDir)
	if err := store.SetImages(path); err != nil {
		return err
	}

	s.imagesMu.Lock()
	old := s.images
	s.images = store
	s.imagesMu.Unlock()

	if old != nil {
		old.Close()
	}
	sessionLog.Info("images_selected", slog.String("session", s.id), slog.String("path", path))
	return nil
}

// ReadImage returns the bytes of an image entry.
func (s *Session) ReadImage(path string) ([]byte, error) {
	s.imagesMu.RLock()
	defer s.imagesMu.RUnlock()
	if s.images == nil {
		return nil, apperr.State("read image", "no images archive selected")
	}
	return s.images.ReadBinary(path)
}

// SetRepository opens the git repository at path. On failure the previous
// repository stays active.
func (s *Session) SetRepository(path string) error {
	r, err := git.Open(path)
	if err != nil {
		return err
	}
	s.repoMu.Lock()
	s.repo = r
	s.repoMu.Unlock()
	sessionLog.Info("repository_selected", slog.String("session", s.id), slog.String("path", path))
	return nil
}

func (s *Session) repository(op string) (*git.Repo, error) {
	s.repoMu.RLock()
	defer s.repoMu.RUnlock()
	if s.repo == nil {
		return nil, apperr.State(op, "no repository selected")
	}
	return s.repo, nil
}

// CommitMetadata describes the commit rev names.
func (s *Session) CommitMetadata(rev string) (*git.CommitMetadata, error) {
	r, err := s.repository("commit metadata")
	if err != nil {
		return nil, err
	}
	return r.CommitMetadata(rev)
}

// FileLinesAtRevision returns lines start..end of path at rev.
func (s *Session) FileLinesAtRevision(path, rev string, start, end int) ([]string, error) {
	r, err := s.repository("file lines")
	if err != nil {
		return nil, err
	}
	return r.FileLinesAtRevision(path, rev, git.LineRange{Start: start, End: end})
}

// FileDiffBetweenRevisions returns the diff of path between from and to near
// lines start..end.
func (s *Session) FileDiffBetweenRevisions(path, from, to string, start, end int) ([]git.DiffLine, error) {
	r, err := s.repository("file diff")
	if err != nil {
		return nil, err
	}
	return r.FileDiffBetweenRevisions(path, from, to, git.LineRange{Start: start, End: end})
}

// TreeDiffBetweenRevisions lists every change between from and to,
// optionally filtered by pattern.
func (s *Session) TreeDiffBetweenRevisions(ctx context.Context, from, to, pattern string) ([]git.FileDiff, error) {
	r, err := s.repository("tree diff")
	if err != nil {
		return nil, err
	}
	return r.TreeDiffBetweenRevisions(ctx, from, to, pattern)
}

// Close waits for background work and releases the archives.
func (s *Session) Close() error {
	s.scheduler.Invalidate()
	s.scheduler.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Close()
	err := s.store.Close()

	s.imagesMu.Lock()
	if s.images != nil {
		s.images.Close()
		s.images = nil
	}
	s.imagesMu.Unlock()

	sessionLog.Debug("session_closed", slog.String("session", s.id))
	return err
}
