// Package preload warms a file-content cache in the background after a
// search. Each Start supersedes the previous one through a generation
// counter; a superseded task stops before its next read and never inserts
// what it already read.
package preload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/pr-viewer/internal/logging"
)

var preloadLog = logging.ForComponent(logging.CompPreload)

// DefaultLimit caps how many candidates one Start considers.
const DefaultLimit = 100

// Source reads text content without going through any other cache.
type Source interface {
	LoadText(path string) (string, error)
}

// Options configures a Scheduler.
type Options struct {
	// Limit caps the candidates per Start. Zero means DefaultLimit.
	Limit int
	// RatePerSecond paces archive reads. Zero means unpaced.
	RatePerSecond float64
}

// Scheduler owns the dedicated preload cache. The generation counter is kept
// apart from the cache lock so cancellation checks never wait on inserts.
type Scheduler struct {
	src     Source
	limit   int
	limiter *rate.Limiter

	generation atomic.Uint64

	mu    sync.RWMutex
	cache map[string]string

	wg sync.WaitGroup
}

// New creates a Scheduler reading from src.
func New(src Source, opts Options) *Scheduler {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Scheduler{
		src:   src,
		limit: limit,
		cache: make(map[string]string),
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return s
}

// Limit returns the per-Start candidate cap.
func (s *Scheduler) Limit() int { return s.limit }

// Generation returns the current generation.
func (s *Scheduler) Generation() uint64 { return s.generation.Load() }

// Start supersedes any running task and warms up to Limit of paths in the
// background. It returns the new task's generation.
func (s *Scheduler) Start(paths []string) uint64 {
	ticket := s.generation.Add(1)

	candidates := paths
	if len(candidates) > s.limit {
		candidates = candidates[:s.limit]
	}
	candidates = append([]string(nil), candidates...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ticket, candidates)
	}()
	return ticket
}

func (s *Scheduler) live(ticket uint64) bool {
	return s.generation.Load() == ticket
}

func (s *Scheduler) run(ticket uint64, candidates []string) {
	start := time.Now()

	pending := s.missing(candidates)
	if len(pending) == 0 {
		preloadLog.Debug("preload_all_cached", slog.Uint64("generation", ticket), slog.Int("candidates", len(candidates)))
		return
	}

	loaded, failed := 0, 0
	for _, p := range pending {
		if !s.live(ticket) {
			preloadLog.Debug("preload_superseded",
				slog.Uint64("generation", ticket),
				slog.Int("loaded", loaded))
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(context.Background()); err != nil {
				return
			}
			if !s.live(ticket) {
				return
			}
		}

		text, err := s.src.LoadText(p)
		if err != nil {
			failed++
			preloadLog.Debug("preload_read_failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if !s.live(ticket) {
			preloadLog.Debug("preload_superseded",
				slog.Uint64("generation", ticket),
				slog.Int("loaded", loaded))
			return
		}
		if s.insert(ticket, p, text) {
			loaded++
		}
	}

	preloadLog.Info("preload_done",
		slog.Uint64("generation", ticket),
		slog.Int("loaded", loaded),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(start)))
}

func (s *Scheduler) missing(paths []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range paths {
		if _, ok := s.cache[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// insert adds text for p unless the ticket went stale or p is already
// cached. The generation is re-checked under the lock so an insert cannot
// land after Invalidate cleared the cache.
func (s *Scheduler) insert(ticket uint64, p, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(ticket) {
		return false
	}
	if _, ok := s.cache[p]; ok {
		return false
	}
	s.cache[p] = text
	return true
}

// Get returns the cached content for p.
func (s *Scheduler) Get(p string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.cache[p]
	return text, ok
}

// Len returns the number of cached entries.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Invalidate supersedes any running task and clears the cache. Call it when
// the archive changes.
func (s *Scheduler) Invalidate() {
	gen := s.generation.Add(1)
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	preloadLog.Debug("preload_invalidated", slog.Uint64("generation", gen))
}

// Wait blocks until every started task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
