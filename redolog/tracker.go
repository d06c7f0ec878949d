package redolog

import "sync"

// bitmapTracker is the real changed-page tracker behind the
// track_changed_pages knob: a per-page bitmap of the highest LSN that
// touched it, coarse enough to answer "has this page changed since LSN
// X" without walking the log. Its own state machine (persistence,
// compaction) is out of this core's scope per §9; the core only checks
// Enabled and calls Track. Disable is never called from this package.
type bitmapTracker struct {
	mu      sync.Mutex
	enabled bool
	touched map[uint64]LSN
}

// newBitmapTracker returns a tracker that is enabled from construction —
// track_changed_pages being on is what turns tracking on, not whichever
// call happens to touch Track first.
func newBitmapTracker() *bitmapTracker {
	return &bitmapTracker{enabled: true, touched: make(map[uint64]LSN)}
}

func (t *bitmapTracker) Track(pageID uint64, lsn LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.touched[pageID] = lsn
}

func (t *bitmapTracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.touched = nil
}

func (t *bitmapTracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
