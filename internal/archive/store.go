// Package archive is a caching read-only filesystem over one exported PR
// archive (zip or gzip+tar).
//
// The container handle, the decoder, the content cache, the extraction
// workspace and the extraction bookkeeping each have their own lock. Reads
// that need the decoder serialize on it; cache hits never touch it.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
	"github.com/asheshgoplani/pr-viewer/internal/logging"
)

var archiveLog = logging.ForComponent(logging.CompArchive)

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// Store serves entries of the current archive. The zero value is not usable;
// call NewStore.
type Store struct {
	workspaceParent string

	// handle
	mu        sync.RWMutex
	path      string
	format    Format
	c         container
	root      string
	indexName string
	epoch     uint64

	// exclusive use of c.Open and the workspace contents
	decodeMu sync.Mutex

	cacheMu    sync.RWMutex
	cache      map[string]string
	cacheEpoch uint64

	wsMu sync.Mutex
	ws   *workspace

	extractedMu sync.Mutex
	extracted   map[string]string

	flight singleflight.Group
	stats  counters
}

// NewStore creates an empty Store. workspaceParent is where the extraction
// workspace is created; empty means the system temp directory.
func NewStore(workspaceParent string) *Store {
	return &Store{
		workspaceParent: workspaceParent,
		cache:           make(map[string]string),
		extracted:       make(map[string]string),
	}
}

// SetArchive opens and validates the archive at p and, only when that
// succeeds, replaces the current one. The parsed index document is returned.
// A failed call leaves the previous archive fully usable.
func (s *Store) SetArchive(p string) ([]PrIndexEntry, error) {
	pd, err := s.Prepare(p)
	if err != nil {
		return nil, err
	}
	s.Install(pd)
	return pd.Entries(), nil
}

// SetImages opens an archive that carries no index document, such as an
// exported images bundle. Failure leaves the previous archive in place.
func (s *Store) SetImages(p string) error {
	pd, err := s.prepare(p, false)
	if err != nil {
		return err
	}
	s.Install(pd)
	return nil
}

// Pending is an archive that has been opened and validated but not yet
// installed. Exactly one of Store.Install or Discard must be called on it.
type Pending struct {
	path      string
	format    Format
	size      int64
	c         container
	root      string
	indexName string
	indexText string
	entries   []PrIndexEntry
	done      bool
}

// Path returns the archive location the Pending was prepared from.
func (pd *Pending) Path() string { return pd.path }

// Entries returns the parsed index document.
func (pd *Pending) Entries() []PrIndexEntry { return pd.entries }

// Discard closes the container without installing it.
func (pd *Pending) Discard() {
	if pd == nil || pd.done {
		return
	}
	pd.done = true
	if err := pd.c.Close(); err != nil {
		archiveLog.Warn("archive_close_failed", slog.String("error", err.Error()))
	}
}

// Prepare opens and validates the archive at p, including its index
// document, without touching the current archive. Callers that need to do
// more work before switching over use this with Install.
func (s *Store) Prepare(p string) (*Pending, error) {
	return s.prepare(p, true)
}

func (s *Store) prepare(p string, withIndex bool) (*Pending, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, apperr.InvalidInput("set archive", p, err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.InvalidInput("set archive", p, errNotRegular)
	}
	format := DetectFormat(p)
	if format == FormatUnknown {
		return nil, apperr.InvalidInput("set archive", p, errExtension)
	}

	c, err := openContainer(p, format)
	if err != nil {
		return nil, apperr.Corrupt("open archive", p, err)
	}
	pd := &Pending{path: p, format: format, size: info.Size(), c: c}
	if !withIndex {
		return pd, nil
	}

	indexName, root, err := findIndexName(c.Names())
	if err != nil {
		pd.Discard()
		return nil, err
	}
	data, err := readAll(c, indexName)
	if err != nil {
		pd.Discard()
		return nil, apperr.Corrupt("read index", indexName, err)
	}
	if !utf8.Valid(data) {
		pd.Discard()
		return nil, apperr.Corrupt("read index", indexName, errInvalidUTF8)
	}
	entries, err := parseIndex(indexName, data)
	if err != nil {
		pd.Discard()
		return nil, err
	}
	pd.indexName, pd.root, pd.indexText, pd.entries = indexName, root, string(data), entries
	return pd, nil
}

// Install makes pd the current archive and drops everything derived from
// the previous one. Installing a Pending twice, or after Discard, is a no-op.
func (s *Store) Install(pd *Pending) {
	if pd == nil || pd.done {
		return
	}
	pd.done = true

	old := s.commit(pd)
	if old != nil {
		if err := old.Close(); err != nil {
			archiveLog.Warn("archive_close_failed", slog.String("error", err.Error()))
		}
	}

	archiveLog.Info("archive_set",
		slog.String("path", pd.path),
		slog.String("format", pd.format.String()),
		slog.Int64("size", pd.size),
		slog.Int("entries", len(pd.c.Names())),
		slog.Int("prs", len(pd.entries)))
}

// commit swaps in the new container and drops everything derived from the
// previous one. It returns the previous container for the caller to close.
func (s *Store) commit(pd *Pending) container {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()

	s.mu.Lock()
	old := s.c
	s.epoch++
	epoch := s.epoch
	s.path, s.format, s.c, s.root, s.indexName = pd.path, pd.format, pd.c, pd.root, pd.indexName
	s.mu.Unlock()

	s.cacheMu.Lock()
	s.cache = make(map[string]string)
	if pd.indexName != "" {
		s.cache[pd.indexName] = pd.indexText
	}
	s.cacheEpoch = epoch
	s.cacheMu.Unlock()

	s.dropWorkspace()

	s.extractedMu.Lock()
	s.extracted = make(map[string]string)
	s.extractedMu.Unlock()

	return old
}

func (s *Store) dropWorkspace() {
	s.wsMu.Lock()
	ws := s.ws
	s.ws = nil
	s.wsMu.Unlock()
	if ws == nil {
		return
	}
	if err := ws.remove(); err != nil {
		archiveLog.Warn("workspace_remove_failed",
			slog.String("dir", ws.dir),
			slog.String("error", err.Error()))
	}
}

// Path returns the current archive path, or "" when none is set.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Format returns the container format of the current archive.
func (s *Store) Format() Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// Root returns the directory prefix ("" or "dir/") that holds the index
// document and the prs/ directory.
func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// ContentPath returns the archive path of an entry's content file.
func (s *Store) ContentPath(e PrIndexEntry) string {
	return s.Root() + ContentDir + "/" + e.Filename
}

// ListEntries returns every entry name in archive order.
func (s *Store) ListEntries() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.c == nil {
		return nil, apperr.State("list entries", "no archive selected")
	}
	names := s.c.Names()
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

// ReadText returns the UTF-8 content of an entry, from the cache when
// possible. Concurrent misses for the same path share one decode.
func (s *Store) ReadText(name string) (string, error) {
	if text, ok := s.cached(name); ok {
		s.stats.cacheHits.Add(1)
		logging.Aggregate(logging.CompArchive, "cache_hit")
		return text, nil
	}
	s.stats.cacheMisses.Add(1)

	v, err, _ := s.flight.Do(name, func() (any, error) {
		text, epoch, err := s.loadText(name)
		if err != nil {
			return nil, err
		}
		s.storeCached(name, text, epoch)
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// LoadText decodes an entry as UTF-8 without reading or filling the
// content cache.
func (s *Store) LoadText(name string) (string, error) {
	text, _, err := s.loadText(name)
	return text, err
}

// ReadBinary returns the raw bytes of an entry. Binary payloads are never
// cached.
func (s *Store) ReadBinary(name string) ([]byte, error) {
	data, _, err := s.readEntry("read binary", name)
	return data, err
}

// Cached reports whether name is in the content cache.
func (s *Store) Cached(name string) bool {
	_, ok := s.cached(name)
	return ok
}

func (s *Store) cached(name string) (string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	text, ok := s.cache[name]
	return text, ok
}

// storeCached inserts unless the archive changed since the read started.
func (s *Store) storeCached(name, text string, epoch uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheEpoch != epoch {
		archiveLog.Debug("cache_insert_stale", slog.String("path", name))
		return
	}
	s.cache[name] = text
}

func (s *Store) loadText(name string) (string, uint64, error) {
	data, epoch, err := s.readEntry("read", name)
	if err != nil {
		return "", 0, err
	}
	if !utf8.Valid(data) {
		return "", 0, apperr.Corrupt("read", name, errInvalidUTF8)
	}
	return string(data), epoch, nil
}

// readEntry fetches raw bytes, decoding in memory when the container allows
// it and going through the workspace otherwise.
func (s *Store) readEntry(op, name string) ([]byte, uint64, error) {
	start := time.Now()

	s.mu.RLock()
	c := s.c
	s.mu.RUnlock()
	if c == nil {
		return nil, 0, apperr.State(op, "no archive selected")
	}

	if !c.InMemory() {
		loc, epoch, err := s.extract(op, name)
		if err != nil {
			return nil, 0, err
		}
		data, err := os.ReadFile(loc)
		if err != nil {
			return nil, 0, apperr.NotFound(op, name, err)
		}
		return data, epoch, nil
	}

	var data []byte
	var epoch uint64
	err := s.withDecoder(op, func(c container, ep uint64) error {
		epoch = ep
		b, err := readAll(c, name)
		if err != nil {
			return err
		}
		s.stats.decodes.Add(1)
		data = b
		return nil
	})
	if err != nil {
		return nil, 0, wrapEntryErr(op, name, err)
	}

	archiveLog.Debug("entry_decoded",
		slog.String("path", name),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)))
	return data, epoch, nil
}

// withDecoder runs fn with exclusive access to the current container.
func (s *Store) withDecoder(op string, fn func(c container, epoch uint64) error) error {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()

	s.mu.RLock()
	c, epoch := s.c, s.epoch
	s.mu.RUnlock()
	if c == nil {
		return apperr.State(op, "no archive selected")
	}
	return fn(c, epoch)
}

// ExtractToWorkspace materializes an entry as a file and returns its
// location. Repeat calls return the same location without re-extracting
// as long as the file is still there.
func (s *Store) ExtractToWorkspace(name string) (string, error) {
	loc, _, err := s.extract("extract", name)
	return loc, err
}

// extract holds decodeMu for the whole lookup so the returned location and
// epoch always belong to the same archive.
func (s *Store) extract(op, name string) (string, uint64, error) {
	var (
		loc   string
		epoch uint64
	)
	err := s.withDecoder(op, func(c container, ep uint64) error {
		epoch = ep
		if prev, ok := s.extractedLocation(name); ok {
			if _, err := os.Stat(prev); err == nil {
				loc = prev
				return nil
			}
		}

		ws, err := s.workspace()
		if err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
		target := ws.location(name)
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}

		rc, err := c.Open(name)
		if err != nil {
			return err
		}
		defer rc.Close()
		s.stats.decodes.Add(1)

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			os.Remove(target)
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}

		s.extractedMu.Lock()
		s.extracted[name] = target
		s.extractedMu.Unlock()
		s.stats.extractions.Add(1)
		loc = target
		return nil
	})
	if err != nil {
		return "", 0, wrapEntryErr(op, name, err)
	}
	archiveLog.Debug("entry_extracted", slog.String("path", name), slog.String("location", loc))
	return loc, epoch, nil
}

func (s *Store) extractedLocation(name string) (string, bool) {
	s.extractedMu.Lock()
	defer s.extractedMu.Unlock()
	loc, ok := s.extracted[name]
	return loc, ok
}

func (s *Store) workspace() (*workspace, error) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.ws == nil {
		ws, err := newWorkspace(s.workspaceParent)
		if err != nil {
			return nil, err
		}
		archiveLog.Debug("workspace_created", slog.String("dir", ws.dir))
		s.ws = ws
	}
	return s.ws, nil
}

// IndexDocument locates the unique pr_index_*.json entry and returns its
// parsed rows.
func (s *Store) IndexDocument() ([]PrIndexEntry, error) {
	names, err := s.ListEntries()
	if err != nil {
		return nil, err
	}
	name, _, err := findIndexName(names)
	if err != nil {
		return nil, err
	}
	text, err := s.ReadText(name)
	if err != nil {
		return nil, err
	}
	return parseIndex(name, []byte(text))
}

// Stats returns a copy of the Store's counters.
func (s *Store) Stats() Stats {
	s.cacheMu.RLock()
	n := len(s.cache)
	s.cacheMu.RUnlock()
	return Stats{
		Decodes:       s.stats.decodes.Load(),
		CacheHits:     s.stats.cacheHits.Load(),
		CacheMisses:   s.stats.cacheMisses.Load(),
		Extractions:   s.stats.extractions.Load(),
		CachedEntries: n,
	}
}

// Close releases the archive and removes the workspace. The Store can be
// reused with SetArchive afterwards.
func (s *Store) Close() error {
	s.decodeMu.Lock()
	defer s.decodeMu.Unlock()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.path, s.root, s.indexName = "", "", ""
	s.format = FormatUnknown
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	s.cacheMu.Lock()
	s.cache = make(map[string]string)
	s.cacheEpoch = epoch
	s.cacheMu.Unlock()

	s.dropWorkspace()

	s.extractedMu.Lock()
	s.extracted = make(map[string]string)
	s.extractedMu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

func readAll(c container, name string) ([]byte, error) {
	rc, err := c.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// wrapEntryErr keeps already-classified errors and maps the rest onto the
// taxonomy.
func wrapEntryErr(op, name string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound(op, name, err)
	}
	return apperr.Corrupt(op, name, err)
}
