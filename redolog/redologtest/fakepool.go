// Package redologtest provides a minimal in-memory BufferPool fake for
// exercising the redolog engine without a real page cache, the way the
// teacher's suite stood in simple fakes for its storage collaborators
// rather than pulling in the whole buffer pool for a log-only test.
package redologtest

import (
	"sync"

	"redolog/redolog"
)

// FakePool is a BufferPool that tracks dirty pages as a plain map of
// pageID -> modification LSN, with no eviction and no real I/O. It is
// sufficient for the engine's three questions: what is the oldest dirty
// page, flush some pages, and report whether anything is left.
type FakePool struct {
	mu      sync.Mutex
	dirty   map[uint64]redolog.LSN
	pending int
}

func NewFakePool() *FakePool {
	return &FakePool{dirty: make(map[uint64]redolog.LSN)}
}

// MarkDirty records that pageID was modified at lsn, as a real buffer
// pool would do when a mini-transaction commits a change to that page.
func (p *FakePool) MarkDirty(pageID uint64, lsn redolog.LSN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.dirty[pageID]; !ok || lsn < existing {
		p.dirty[pageID] = lsn
	}
}

func (p *FakePool) OldestModificationLSN() redolog.LSN {
	p.mu.Lock()
	defer p.mu.Unlock()
	oldest := redolog.LSNNone
	for _, lsn := range p.dirty {
		if oldest == redolog.LSNNone || lsn < oldest {
			oldest = lsn
		}
	}
	return oldest
}

// FlushLists removes every tracked page whose modification LSN is below
// upto, as if a page cleaner had written them back.
func (p *FakePool) FlushLists(limitPages int, upto redolog.LSN) (bool, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	flushed := 0
	for pageID, lsn := range p.dirty {
		if limitPages > 0 && flushed >= limitPages {
			break
		}
		if lsn < upto {
			delete(p.dirty, pageID)
			flushed++
		}
	}
	return true, flushed, nil
}

func (p *FakePool) WaitBatchEnd(list int) {}

func (p *FakePool) AllFreed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty) == 0
}

func (p *FakePool) CheckNoPendingIO() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

var _ redolog.BufferPool = (*FakePool)(nil)
