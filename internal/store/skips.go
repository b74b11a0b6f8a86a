package store

import "sync"

// SkipTracker records pages that produced no new records even after a retry,
// in the order they were skipped. A page appears at most once.
type SkipTracker struct {
	mu    sync.Mutex
	pages []int
	seen  map[int]bool
}

func NewSkipTracker() *SkipTracker {
	return &SkipTracker{seen: make(map[int]bool)}
}

// Add records page as skipped. It returns false if the page was already recorded.
func (t *SkipTracker) Add(page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[page] {
		return false
	}
	t.seen[page] = true
	t.pages = append(t.pages, page)
	return true
}

func (t *SkipTracker) Contains(page int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[page]
}

// Pages returns a copy of the skipped page indices.
func (t *SkipTracker) Pages() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.pages))
	copy(out, t.pages)
	return out
}

func (t *SkipTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pages)
}
