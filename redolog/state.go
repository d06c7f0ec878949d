package redolog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"redolog/common"
)

// PageSize is the allocation granularity used when sizing an extended log
// buffer, matching the page-oriented storage manager this engine backs.
const PageSize = 4096

// WriteMargin is spare room reserved in the buffer fill check so a
// reservation never races the writer's drain window.
const WriteMargin = 4 * BlockSize

// DefaultBufSize is "low megabytes", as §4.3 specifies.
const DefaultBufSize = 4 * 1024 * 1024

// retryBudget bounds the reserve/margin retry loops at ~50 iterations per
// §5 and §7.
const retryBudget = 50

// ShutdownState is the global shutdown state machine driven by C7.
type ShutdownState int32

const (
	ShutdownNone ShutdownState = iota
	ShutdownCleanup
	ShutdownFlushPhase
	ShutdownLastPhase
)

// GroupSpec describes one log group to create at Init/GroupInit time.
type GroupSpec struct {
	ID             uint32
	NFiles         int
	FileSize       int64
	SpaceID        uint32
	ArchiveSpaceID uint32
}

// Config gathers the server knobs §6.1 lists, plus the buffer sizing this
// engine needs at Init.
type Config struct {
	BufSize            int64
	ThreadConcurrency  int
	WriteAheadSize     int64
	TrackChangedPages  bool
	ReadOnly           bool
	ForegroundPreflush bool
	FlushMethod        FlushMethod

	// CheckpointCreatedBy is stamped into new file headers' created-by
	// label when non-empty.
	CheckpointCreatedBy string
}

func (c Config) withDefaults() Config {
	if c.BufSize <= 0 {
		c.BufSize = DefaultBufSize
	}
	if c.ThreadConcurrency <= 0 {
		c.ThreadConcurrency = 8
	}
	if c.WriteAheadSize <= 0 {
		c.WriteAheadSize = BlockSize
	}
	return c
}

// ageThresholds are derived once from the smallest group's capacity, per
// §4.5.
type ageThresholds struct {
	usable                int64
	maxCheckpointAge      int64
	maxModifiedAgeAsync   int64
	maxModifiedAgeSync    int64
	maxCheckpointAgeAsync int64
}

func computeAgeThresholds(smallestCapacity int64, threadConcurrency int) (ageThresholds, error) {
	reservePerThread := int64(4 * PageSize)
	extra := int64(8 * PageSize)

	usable := smallestCapacity - reservePerThread*int64(10+threadConcurrency) - extra - smallestCapacity/10
	if usable <= smallestCapacity/2 {
		return ageThresholds{}, ErrGroupTooSmall
	}

	return ageThresholds{
		usable:                usable,
		maxCheckpointAge:      usable - usable/10,
		maxModifiedAgeAsync:   usable - usable/8,
		maxModifiedAgeSync:    usable - usable/16,
		maxCheckpointAgeAsync: usable - usable/32,
	}, nil
}

// LogSystem is the process-wide redo-log engine: the singleton described
// by §3's "Log-system state". It is created by Init and passed around
// explicitly; its lifecycle is Init -> ... -> Shutdown -> MemFree.
type LogSystem struct {
	cfg      Config
	logger   log.Logger
	metrics  *Metrics
	pool     BufferPool
	fio      FileIO
	recovery Recovery
	archiver Archiver
	tracker  ChangeTracker

	mu sync.Mutex // the coarse log mutex guarding everything below

	lsn               LSN
	writeLSNFast      atomic.Uint64 // mirrors writeLSN for WriteUpTo's lock-free fast path
	writeLSN          LSN
	flushedToDiskLSN  LSN
	lastCheckpointLSN LSN
	nextCheckpointLSN LSN
	nextCheckpointNo  uint64

	// buffer
	buf                  []byte
	bufFree              int // write cursor: producers append here
	bufNextToWrite       int // drain cursor: writer starts here
	writeEndOffset       int // end of the most recent drain window
	firstRecGroupPending bool
	maxBufFree           int
	extending            bool

	groups []*Group

	thresholds ageThresholds

	nPendingFlushes          int32
	nPendingCheckpointWrites int32
	flushInProgress          bool
	currentFlushLSN          LSN

	flushEvent     *common.Event
	checkpointLock sync.RWMutex

	checkFlushOrCheckpoint bool

	shutdownState    atomic.Int32
	veryFastShutdown bool

	lastCapacityErrorLogged time.Time

	stats *common.Stats

	lastLSNAtStart LSN
}

// Init creates the log system: allocates the buffer, wires collaborators,
// and starts the engine in a state ready for GroupInit calls. Init itself
// opens no group; ReserveAndOpen does not check for one, and WriteUpTo
// writes to whichever groups exist when it runs.
func Init(cfg Config, pool BufferPool, fio FileIO, logger log.Logger, registerer prometheus.Registerer) (*LogSystem, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}

	l := &LogSystem{
		cfg:        cfg,
		logger:     logger,
		metrics:    NewMetrics(registerer),
		pool:       pool,
		fio:        fio,
		recovery:   noopRecovery{},
		archiver:   noArchiver{},
		tracker:    noopTracker{},
		lsn:        LSNStart,
		writeLSN:   LSNStart,
		buf:        make([]byte, cfg.BufSize),
		maxBufFree: int(cfg.BufSize) - int(cfg.BufSize)/4,
		flushEvent: common.NewEvent(),
		stats:      common.NewStats(),
	}

	if cfg.TrackChangedPages {
		l.tracker = newBitmapTracker()
	}

	// The first block's header is written at the block-start LSN (so
	// blockNoForLSN comes out right), then lsn is advanced past it: the
	// header occupies LSN space exactly like any other framing byte, so a
	// fresh log's first reservable LSN sits after it, not at the block
	// start.
	initBlockHeader(l.buf, l.lsn, l.nextCheckpointNo)
	l.bufFree = offPayload
	l.lsn += LSN(BlockHdrSize)

	l.lastLSNAtStart = l.lsn
	l.lastCheckpointLSN = l.lsn
	l.nextCheckpointLSN = l.lsn
	l.writeLSNFast.Store(uint64(l.writeLSN))

	level.Debug(l.logger).Log("msg", "redolog initialized", "buf_size", cfg.BufSize, "lsn_start", uint64(l.lsn))
	return l, nil
}

// GroupInit creates and registers one log group, opening its files
// through the FileIO collaborator and recomputing age thresholds from the
// smallest capacity seen so far.
func (l *LogSystem) GroupInit(id uint32, nFiles int, fileSize int64, spaceID, archiveSpaceID uint32) error {
	if nFiles < 1 {
		return errorf("redolog: group %d needs at least one file", id)
	}
	if fileSize <= FileHdrSize {
		return errorf("redolog: group %d file size %d must exceed the file header", id, fileSize)
	}

	g := &Group{
		ID:             id,
		NFiles:         nFiles,
		FileSize:       fileSize,
		SpaceID:        spaceID,
		ArchiveSpaceID: archiveSpaceID,
		io:             l.fio,
		anchorLSN:      LSNStart,
		anchorOffset:   0,
	}

	if err := l.fio.Open(id, nFiles, fileSize); err != nil {
		return err
	}

	for i := 0; i < nFiles; i++ {
		hdr := make([]byte, FileHdrSize)
		encodeFileHeader(hdr, FileHeader{GroupID: id, StartLSN: LSNStart, CreatedByBackup: l.cfg.CheckpointCreatedBy})
		if err := l.fio.WriteAt(id, i, 0, hdr, false); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.groups = append(l.groups, g)

	smallest := g.Capacity()
	for _, other := range l.groups {
		if other.Capacity() < smallest {
			smallest = other.Capacity()
		}
	}
	thresholds, err := computeAgeThresholds(smallest, l.cfg.ThreadConcurrency)
	l.mu.Unlock()

	if err != nil {
		level.Error(l.logger).Log("msg", "log group too small", "group", id, "err", err)
		return err
	}

	l.mu.Lock()
	l.thresholds = thresholds
	l.mu.Unlock()

	level.Debug(l.logger).Log("msg", "log group initialized", "group", id, "n_files", nFiles, "file_size", fileSize)
	return nil
}

// PeekLSN is a non-blocking read of the current LSN: it never waits on
// mutex contention, returning ok=false instead.
func (l *LogSystem) PeekLSN() (lsn LSN, ok bool) {
	if !l.mu.TryLock() {
		return 0, false
	}
	defer l.mu.Unlock()
	return l.lsn, true
}

// Print writes a human-readable dump of the engine's state, mirroring
// log_print's diagnostic output.
func (l *LogSystem) Print(w func(format string, args ...any)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w("redolog: lsn=%d write_lsn=%d flushed_to_disk_lsn=%d\n", l.lsn, l.writeLSN, l.flushedToDiskLSN)
	w("redolog: last_checkpoint_lsn=%d next_checkpoint_no=%d pending_flushes=%d pending_checkpoint_writes=%d\n",
		l.lastCheckpointLSN, l.nextCheckpointNo, l.nPendingFlushes, l.nPendingCheckpointWrites)
}

// RefreshStats resets the delta counters tracked in common.Stats without
// touching the cumulative Prometheus series, mirroring log_refresh_stats.
func (l *LogSystem) RefreshStats() {
	l.stats = common.NewStats()
}

// MemFree releases the buffer. Must be called after Shutdown.
func (l *LogSystem) MemFree() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = nil
}

func errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
