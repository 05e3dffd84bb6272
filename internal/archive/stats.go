package archive

import "sync/atomic"

// Stats is a point-in-time copy of a Store's counters.
type Stats struct {
	// Decodes counts entry retrievals from the underlying container.
	Decodes int64
	// CacheHits and CacheMisses count ReadText lookups.
	CacheHits   int64
	CacheMisses int64
	// Extractions counts entries written to the workspace.
	Extractions int64
	// CachedEntries is the current size of the content cache.
	CachedEntries int
}

type counters struct {
	decodes     atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	extractions atomic.Int64
}
