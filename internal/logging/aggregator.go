package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type eventKey struct {
	component string
	event     string
}

type eventTally struct {
	count int64
	last  []slog.Attr
}

// Aggregator batches high-frequency events and emits one "event_summary"
// record per (component, event) pair every interval.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	tally  map[eventKey]*eventTally
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator that flushes every intervalSecs seconds.
// A nil logger drops everything that is recorded.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tally:    make(map[eventKey]*eventTally),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop stops the flush goroutine and emits whatever is pending. Safe to call
// more than once.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	a.wg.Wait()
	a.Flush()
}

// Record increments the counter for an event. The most recent non-empty
// field set is reported with the summary.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := eventKey{component: component, event: event}
	t, ok := a.tally[key]
	if !ok {
		t = &eventTally{}
		a.tally[key] = t
	}
	t.count++
	if len(fields) > 0 {
		t.last = fields
	}
}

// Pending returns the unflushed count for an event.
func (a *Aggregator) Pending(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tally[eventKey{component: component, event: event}]; ok {
		return t.count
	}
	return 0
}

// Flush emits and resets all pending counters.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if len(a.tally) == 0 {
		a.mu.Unlock()
		return
	}
	tally := a.tally
	a.tally = make(map[eventKey]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	keys := make([]eventKey, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].event < keys[j].event
	})

	for _, k := range keys {
		t := tally[k]
		attrs := []any{
			slog.String("component", k.component),
			slog.String("event", k.event),
			slog.Int64("count", t.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range t.last {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
