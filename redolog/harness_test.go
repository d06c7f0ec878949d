package redolog

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// localFakePool is a trivial BufferPool used only by this package's own
// tests; redologtest.FakePool cannot be imported here without an import
// cycle (it imports redolog).
type localFakePool struct {
	mu    sync.Mutex
	dirty map[uint64]LSN
}

func newLocalFakePool() *localFakePool {
	return &localFakePool{dirty: make(map[uint64]LSN)}
}

func (p *localFakePool) markDirty(pageID uint64, lsn LSN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.dirty[pageID]; !ok || lsn < existing {
		p.dirty[pageID] = lsn
	}
}

func (p *localFakePool) OldestModificationLSN() LSN {
	p.mu.Lock()
	defer p.mu.Unlock()
	oldest := LSNNone
	for _, lsn := range p.dirty {
		if oldest == LSNNone || lsn < oldest {
			oldest = lsn
		}
	}
	return oldest
}

func (p *localFakePool) FlushLists(limitPages int, upto LSN) (bool, int, error) {
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

func (p *localFakePool) WaitBatchEnd(list int) {}

func (p *localFakePool) AllFreed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty) == 0
}

func (p *localFakePool) CheckNoPendingIO() int { return 0 }

var _ BufferPool = (*localFakePool)(nil)

// newTestSystem wires a LogSystem over a temp-dir OSFileIO and a single
// small group, ready for ReserveAndOpen/Append/Close cycles.
func newTestSystem(t *testing.T, pool BufferPool) (*LogSystem, *OSFileIO) {
	t.Helper()
	// A uuid-suffixed subdirectory, matching the teacher's own
	// persistence-test convention of giving each run its own disposable
	// name rather than reusing one fixture directory across test cases.
	dir := filepath.Join(t.TempDir(), uuid.New().String())

	fio, err := NewOSFileIO(dir)
	if err != nil {
		t.Fatalf("NewOSFileIO: %v", err)
	}

	l, err := Init(Config{BufSize: 256 * 1024, ThreadConcurrency: 1}, pool, fio, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := l.GroupInit(0, 2, 1<<20, 0, 0); err != nil {
		t.Fatalf("GroupInit: %v", err)
	}

	return l, fio
}
