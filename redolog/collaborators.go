package redolog

import (
	"io"

	"redolog/common"
)

// BufferPool is the core's only window into the buffer pool. The core
// never touches page contents or the page table; it only asks "how old is
// the oldest dirty page" and "flush me forward".
type BufferPool interface {
	// OldestModificationLSN returns the smallest page-LSN among all dirty
	// pages, or LSNNone if the pool is clean.
	OldestModificationLSN() LSN

	// FlushLists asks the pool to flush dirty pages whose modification
	// LSN is below upto, touching at most limitPages pages. It returns
	// whether the request was accepted and how many pages were flushed.
	FlushLists(limitPages int, upto LSN) (ok bool, flushed int, err error)

	// WaitBatchEnd blocks until the flush batch for the given list index
	// started by a prior FlushLists call has drained.
	WaitBatchEnd(list int)

	// AllFreed reports whether the pool holds no pages at all, used by
	// shutdown drain to confirm a clean quiesce.
	AllFreed() bool

	// CheckNoPendingIO returns the number of page I/Os still in flight.
	CheckNoPendingIO() int
}

// CompletionKind tags a write so the code that notices it finished knows
// which path to take, replacing the source's low-bit-of-pointer trick
// with an explicit tagged variant per §9. This FileIO is synchronous, so
// completions are observed inline rather than delivered through a
// callback, but the same token still identifies what a write was for at
// every call site that logs or counts one.
type CompletionKind int

const (
	NormalWrite CompletionKind = iota
	CheckpointWrite
)

// Completion identifies what a write was for, passed to the code that
// observes it finished.
type Completion struct {
	Kind  CompletionKind
	Group *Group
}

// FileIO is the file-I/O abstraction the core routes all block addresses
// through; no other code in this module opens a log file directly.
type FileIO interface {
	// Open prepares nFiles files of fileSize bytes under the given
	// identifier for group id, creating them if absent.
	Open(groupID uint32, nFiles int, fileSize int64) error

	// WriteAt writes data at byte offset off within file fileNo of group
	// groupID. sync indicates whether the write must be durable before
	// returning (used by the write-ahead / O_DIRECT-style flush methods).
	WriteAt(groupID uint32, fileNo int, off int64, data []byte, sync bool) error

	// ReadAt reads len(dest) bytes at byte offset off within file fileNo
	// of group groupID.
	ReadAt(groupID uint32, fileNo int, off int64, dest []byte) error

	// Flush fsyncs every open file of the group.
	Flush(groupID uint32) error

	// Close closes every open file of every group.
	Close() error

	// Writer exposes a group's file set as a plain io.WriterAt for
	// components that want a flat byte space rather than LSN addressing.
	Writer(groupID uint32) io.WriterAt
}

// Recovery is consulted at the start of a checkpoint, per §4.6 step 1.
type Recovery interface {
	RecoveryOn() bool
	ApplyHashedLogRecs(all bool)
}

// noopRecovery is the default Recovery collaborator: recovery is never
// active once the engine is accepting writers normally.
type noopRecovery struct{}

func (noopRecovery) RecoveryOn() bool          { return false }
func (noopRecovery) ApplyHashedLogRecs(bool) {}

// Archiver supplies the archived LSN stamped into checkpoint records.
// Absent archiving, ArchivedLSN returns LSNMax per §3.
type Archiver interface {
	ArchivedLSN() LSN
}

type noArchiver struct{}

func (noArchiver) ArchivedLSN() LSN { return LSNMax }

// ChangeTracker records which pages were touched by which LSN range, an
// optional collaborator whose own state machine is out of this core's
// scope; the core only calls Enabled and Track. Nothing in this package
// calls Disable.
type ChangeTracker interface {
	Track(pageID uint64, lsn LSN)
	Disable()
	Enabled() bool
}

// noopTracker is the default: tracking off, Track is a no-op.
type noopTracker struct{}

func (noopTracker) Track(uint64, LSN) {}
func (noopTracker) Disable()          {}
func (noopTracker) Enabled() bool     { return false }

// FlushMethod gates whether WriteUpTo needs an explicit fsync after
// submitting a write, per §6.1 and §4.4's "flush method already implies
// synchronous disk writes" branch.
type FlushMethod int

const (
	FlushODSync FlushMethod = iota
	FlushODirect
	FlushFSync
	FlushLittleSync
	FlushNoSync
	FlushAllODirect
	FlushODirectNoFSync
)

// impliesSyncWrite reports whether the write syscall itself already makes
// bytes durable, letting WriteUpTo skip the separate fsync step.
func (m FlushMethod) impliesSyncWrite() bool {
	return common.OneOf(m, FlushODSync, FlushAllODirect, FlushODirectNoFSync)
}

// needsFsync reports whether an explicit fsync call is required at all
// for this method (NOSYNC never fsyncs; that is the durability trade the
// caller asked for).
func (m FlushMethod) needsFsync() bool {
	return m != FlushNoSync && !m.impliesSyncWrite()
}
