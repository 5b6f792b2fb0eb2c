package utils

import (
	"sync"
	"time"
)

// SlidingWindow keeps the timestamps of recent hits. The span is supplied per
// call because the configured window for a key can change between hits.
type SlidingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Add prunes entries older than now-span, records now, and returns the
// surviving count together with the oldest surviving timestamp.
func (w *SlidingWindow) Add(now time.Time, span time.Duration) (int, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, span)
	w.hits = append(w.hits, now)
	return len(w.hits), w.hits[0]
}

func (w *SlidingWindow) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	idx := 0
	for _, hit := range w.hits {
		if !hit.Before(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
