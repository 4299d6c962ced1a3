package automod

import (
	"sync"
	"time"
)

// windowStore keeps sliding-window histories per (guild, channel, user)
// key. Entries older than the window are pruned before every count, so
// histories stay bounded by traffic within one window length.
type windowStore struct {
	mu      sync.Mutex
	entries map[string][]entry
	now     func() time.Time
}

type entry struct {
	at   time.Time
	text string
}

func newWindowStore(now func() time.Time) *windowStore {
	return &windowStore{
		entries: make(map[string][]entry),
		now:     now,
	}
}

// record appends one event and returns how many events the key has seen
// within the window, including this one.
func (w *windowStore) record(key, text string, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	kept := prune(w.entries[key], now, window)
	kept = append(kept, entry{at: now, text: text})
	w.entries[key] = kept
	return len(kept)
}

// recordText is record counting only entries with identical text.
func (w *windowStore) recordText(key, text string, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	kept := prune(w.entries[key], now, window)
	kept = append(kept, entry{at: now, text: text})
	w.entries[key] = kept
	count := 0
	for _, e := range kept {
		if e.text == text {
			count++
		}
	}
	return count
}

// size reports the live entry count for a key after pruning.
func (w *windowStore) size(key string, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := prune(w.entries[key], w.now(), window)
	w.entries[key] = kept
	return len(kept)
}

func prune(entries []entry, now time.Time, window time.Duration) []entry {
	cutoff := now.Add(-window)
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
