// Package search resolves free-form queries against the PR index: PR id
// matches first, then a ranked title/author text search, then an optional
// fuzzy title match.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
	"github.com/asheshgoplani/pr-viewer/internal/archive"
	"github.com/asheshgoplani/pr-viewer/internal/logging"
)

var searchLog = logging.ForComponent(logging.CompSearch)

const (
	DefaultTitleWeight  = 1.0
	DefaultAuthorWeight = 0.5

	// MinFuzzyQueryLen is the shortest query the fuzzy phase runs for.
	MinFuzzyQueryLen = 3
)

// Options tunes ranking. The zero value means defaults with fuzzy matching
// disabled; use DefaultOptions for the usual setup.
type Options struct {
	TitleWeight  float64
	AuthorWeight float64
	Fuzzy        bool
}

// DefaultOptions returns title 1.0, author 0.5, fuzzy on.
func DefaultOptions() Options {
	return Options{TitleWeight: DefaultTitleWeight, AuthorWeight: DefaultAuthorWeight, Fuzzy: true}
}

// snapshot is one complete build. It is never mutated after Install
// publishes it.
type snapshot struct {
	entries []archive.PrIndexEntry
	byID    map[int64]archive.PrIndexEntry
	idText  []string
	text    *textIndex
	seq     uint64
}

// Index holds at most one snapshot. Rebuild swaps it whole.
type Index struct {
	opts Options

	mu   sync.RWMutex
	snap *snapshot

	seqMu   sync.Mutex
	nextSeq uint64
}

// New creates an empty, uninitialized Index.
func New(opts Options) *Index {
	if opts.TitleWeight <= 0 {
		opts.TitleWeight = DefaultTitleWeight
	}
	if opts.AuthorWeight <= 0 {
		opts.AuthorWeight = DefaultAuthorWeight
	}
	return &Index{opts: opts}
}

// Rebuild discards the current snapshot and indexes entries. When several
// rebuilds overlap, the one started last is kept. A failed Rebuild leaves
// the current snapshot in place.
func (idx *Index) Rebuild(ctx context.Context, entries []archive.PrIndexEntry) error {
	b, err := idx.Build(ctx, entries)
	if err != nil {
		return err
	}
	idx.Install(b)
	return nil
}

// Staged is a snapshot that has been indexed but not yet published.
// Exactly one of Index.Install or Discard must be called on it.
type Staged struct {
	snap    *snapshot
	started time.Time
	done    bool
}

// Discard releases the snapshot without publishing it.
func (b *Staged) Discard() {
	if b == nil || b.done {
		return
	}
	b.done = true
	b.snap.text.close()
}

// Build indexes entries into a new snapshot without touching the current
// one. Callers that must switch several things over together use this with
// Install.
func (idx *Index) Build(ctx context.Context, entries []archive.PrIndexEntry) (*Staged, error) {
	start := time.Now()

	idx.seqMu.Lock()
	idx.nextSeq++
	seq := idx.nextSeq
	idx.seqMu.Unlock()

	snap := &snapshot{
		entries: append([]archive.PrIndexEntry(nil), entries...),
		byID:    make(map[int64]archive.PrIndexEntry, len(entries)),
		idText:  make([]string, len(entries)),
		seq:     seq,
	}
	for i, e := range snap.entries {
		snap.byID[e.ID] = e
		snap.idText[i] = strconv.FormatInt(e.ID, 10)
	}

	text, err := openTextIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := text.load(ctx, snap.entries); err != nil {
		text.close()
		return nil, err
	}
	snap.text = text
	return &Staged{snap: snap, started: start}, nil
}

// Install publishes b unless a build started later is already installed.
func (idx *Index) Install(b *Staged) {
	if b == nil || b.done {
		return
	}
	b.done = true
	snap := b.snap

	idx.mu.Lock()
	old := idx.snap
	if old != nil && old.seq > snap.seq {
		idx.mu.Unlock()
		snap.text.close()
		searchLog.Debug("rebuild_superseded", slog.Uint64("seq", snap.seq))
		return
	}
	idx.snap = snap
	idx.mu.Unlock()

	if old != nil {
		old.text.close()
	}

	searchLog.Info("index_rebuilt",
		slog.Int("entries", len(snap.entries)),
		slog.Duration("elapsed", time.Since(b.started)))
}

// IsInitialized reports whether a snapshot is present.
func (idx *Index) IsInitialized() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snap != nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.snap == nil {
		return 0
	}
	return len(idx.snap.entries)
}

// Lookup returns the entry with the given id.
func (idx *Index) Lookup(id int64) (archive.PrIndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.snap == nil {
		return archive.PrIndexEntry{}, false
	}
	e, ok := idx.snap.byID[id]
	return e, ok
}

// Reset drops the snapshot so IsInitialized reports false until the next
// Rebuild.
func (idx *Index) Reset() {
	idx.mu.Lock()
	old := idx.snap
	idx.snap = nil
	idx.mu.Unlock()
	if old != nil {
		old.text.close()
	}
}

// Close releases the snapshot.
func (idx *Index) Close() error {
	idx.Reset()
	return nil
}

// Search resolves query. A blank query returns no results.
func (idx *Index) Search(ctx context.Context, query string) ([]archive.PrIndexEntry, error) {
	start := time.Now()
	q := strings.TrimSpace(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	snap := idx.snap
	if snap == nil {
		return nil, apperr.State("search", "index not built")
	}
	if q == "" {
		return []archive.PrIndexEntry{}, nil
	}

	phase := "id"
	results := snap.matchID(q)
	if len(results) == 0 {
		phase = "text"
		var err error
		results, err = snap.matchText(ctx, q, idx.opts)
		if err != nil {
			return nil, err
		}
	}
	if len(results) == 0 && idx.opts.Fuzzy && len([]rune(q)) >= MinFuzzyQueryLen {
		phase = "fuzzy"
		results = snap.matchFuzzy(q)
	}

	searchLog.Debug("search",
		slog.String("query", q),
		slog.String("phase", phase),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

// matchID returns id-prefix matches then id-substring matches, each in
// ascending id order.
func (s *snapshot) matchID(q string) []archive.PrIndexEntry {
	var prefix, contains []archive.PrIndexEntry
	for i, idText := range s.idText {
		switch {
		case strings.HasPrefix(idText, q):
			prefix = append(prefix, s.entries[i])
		case strings.Contains(idText, q):
			contains = append(contains, s.entries[i])
		}
	}
	byID := func(list []archive.PrIndexEntry) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	byID(prefix)
	byID(contains)
	return append(prefix, contains...)
}

func (s *snapshot) matchText(ctx context.Context, q string, opts Options) ([]archive.PrIndexEntry, error) {
	expr := matchExpr(q)
	if expr == "" {
		return nil, nil
	}
	rows, err := s.text.query(ctx, expr, opts.TitleWeight, opts.AuthorWeight)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalidInput, "search", q, err)
	}
	out := make([]archive.PrIndexEntry, 0, len(rows))
	for _, r := range rows {
		if r >= 0 && r < len(s.entries) {
			out = append(out, s.entries[r])
		}
	}
	return out, nil
}

// titleSource adapts the snapshot to fuzzy.Source.
type titleSource struct {
	entries []archive.PrIndexEntry
}

func (t titleSource) String(i int) string { return t.entries[i].Title }
func (t titleSource) Len() int            { return len(t.entries) }

func (s *snapshot) matchFuzzy(q string) []archive.PrIndexEntry {
	matches := fuzzy.FindFrom(q, titleSource{entries: s.entries})
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return s.entries[matches[i].Index].ID < s.entries[matches[j].Index].ID
	})
	out := make([]archive.PrIndexEntry, 0, len(matches))
	for _, m := range matches {
		out = append(out, s.entries[m.Index])
	}
	return out
}
