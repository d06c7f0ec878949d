package redolog

import (
	"time"

	"github.com/go-kit/log/level"

	"redolog/common"
)

// Lock and Unlock expose the coarse log mutex. Callers of ReserveAndOpen,
// Append and Close are expected to bracket that sequence with Lock/Unlock
// themselves — ReserveAndOpen's own retry loop may release and reacquire
// the mutex while waiting, but it always returns with the mutex held, and
// neither Append nor Close release it.
func (l *LogSystem) Lock()   { l.mu.Lock() }
func (l *LogSystem) Unlock() { l.mu.Unlock() }

// available returns the number of unused bytes between the write cursor
// and the end of the buffer.
func (l *LogSystem) available() int {
	return len(l.buf) - l.bufFree
}

// ReserveAndOpen reserves room for a record of length n and returns the
// LSN its first byte will occupy. The caller must already hold the log
// mutex; ReserveAndOpen returns with the mutex held.
func (l *LogSystem) ReserveAndOpen(n int) (LSN, error) {
	if l.cfg.ReadOnly {
		return 0, ErrReadOnly
	}

	if capacity := l.smallestCapacity(); capacity > 0 &&
		int64(l.lsn)-int64(l.lastCheckpointLSN) >= capacity {
		return 0, ErrCapacityExceeded
	}

	if n > len(l.buf)/2 {
		if err := l.extendFor(n); err != nil {
			return 0, err
		}
	}

	count := 0
	for {
		if l.extending {
			l.mu.Unlock()
			time.Sleep(100 * time.Microsecond)
			count++
			l.mu.Lock()
			if count >= retryBudget {
				l.metrics.retryExhaustions.Inc()
				return 0, ErrRetryExhaustion
			}
			continue
		}

		upper := int64(WriteMargin) + l.cfg.WriteAheadSize + int64(5*n)/4
		if int64(l.bufFree)+upper > int64(len(l.buf)) {
			l.mu.Unlock()
			go l.BufferSyncInBackground(false)
			l.stats.Avg("reserve_wait", 1)
			time.Sleep(100 * time.Microsecond)
			count++
			l.mu.Lock()
			if count >= retryBudget {
				l.metrics.retryExhaustions.Inc()
				return 0, ErrRetryExhaustion
			}
			continue
		}

		if l.tracker.Enabled() {
			if violatesTrackingMargin(l) && count < retryBudget {
				l.mu.Unlock()
				time.Sleep(10 * time.Microsecond)
				count++
				l.mu.Lock()
				continue
			}
			// §9: tolerated past the retry bound; proceed without error.
		}

		return l.lsn, nil
	}
}

func violatesTrackingMargin(l *LogSystem) bool {
	// Conservative stand-in for the tracking-thread lag check: treated
	// as never-violating since this core does not run a tracking
	// thread of its own (§9 — the tracker's state machine is external).
	return false
}

// Append writes bytes into the buffer, inserting block framing at block
// boundaries, and advances lsn by the payload plus any framing that
// became fixed. The caller must hold the log mutex.
func (l *LogSystem) Append(data []byte) {
	for len(data) > 0 {
		blockStart := (l.bufFree / BlockSize) * BlockSize
		used := l.bufFree - blockStart - offPayload
		if used < 0 {
			used = 0
		}
		capLeft := BlockDataCap - used
		n := len(data)
		if n > capLeft {
			n = capLeft
		}

		full := n == capLeft

		copy(l.buf[l.bufFree:], data[:n])
		l.bufFree += n
		l.lsn += LSN(n)
		data = data[n:]

		h := decodeBlockHeader(l.buf[blockStart:])
		if full {
			// data_len is a sentinel (the whole block size, trailer
			// included) once the block's payload capacity is exhausted,
			// matching log0log.cc's full-block convention rather than the
			// header-inclusive offset used for a partial block.
			h.dataLen = BlockSize
		} else {
			h.dataLen = uint16(l.bufFree - blockStart)
		}
		encodeBlockHeader(l.buf[blockStart:], h)

		if full {
			// block is full: stamp checkpoint number and initialize the
			// next block's header.
			h.checkpointNo = uint32(l.nextCheckpointNo)
			encodeBlockHeader(l.buf[blockStart:], h)

			l.lsn += LSN(BlockHdrSize + BlockTrlSize)
			newBlockStart := blockStart + BlockSize
			l.bufFree = newBlockStart + offPayload
			if newBlockStart < len(l.buf) {
				initBlockHeader(l.buf[newBlockStart:], l.lsn, l.nextCheckpointNo)
			}
			l.firstRecGroupPending = true
		}
	}

	l.metrics.appends.Inc()
}

// Close finalizes the record group that was just appended: it records
// the first-record-group offset in the current block if not already set,
// flags a flush/checkpoint check if the buffer crossed max_buf_free, and
// enforces the hard capacity invariant. The caller must hold the log
// mutex; Close does not release it.
func (l *LogSystem) Close() LSN {
	common.Assert(l.bufFree > 0, "Close called before any Append")
	lsn := l.lsn

	blockStart := (l.bufFree / BlockSize) * BlockSize
	h := decodeBlockHeader(l.buf[blockStart:])
	if h.firstRecGroup == 0 {
		h.firstRecGroup = h.dataLen
		encodeBlockHeader(l.buf[blockStart:], h)
	}

	if l.bufFree > l.maxBufFree {
		l.checkFlushOrCheckpoint = true
	}

	if l.tracker.Enabled() {
		// placeholder lag check; see ReserveAndOpen's note.
	}

	checkpointAge := int64(lsn) - int64(l.lastCheckpointLSN)
	capacity := l.smallestCapacity()
	if capacity > 0 && checkpointAge >= capacity {
		l.logCapacityExceeded(checkpointAge, capacity)
		l.checkFlushOrCheckpoint = true
	}

	if checkpointAge <= l.thresholds.maxModifiedAgeSync {
		return lsn
	}

	oldest := l.pool.OldestModificationLSN()
	if oldest == LSNNone ||
		int64(lsn)-int64(oldest) > l.thresholds.maxModifiedAgeSync ||
		checkpointAge > l.thresholds.maxCheckpointAgeAsync {
		l.checkFlushOrCheckpoint = true
	}

	return lsn
}

func (l *LogSystem) smallestCapacity() int64 {
	if len(l.groups) == 0 {
		return 0
	}
	smallest := l.groups[0].Capacity()
	for _, g := range l.groups[1:] {
		if g.Capacity() < smallest {
			smallest = g.Capacity()
		}
	}
	return smallest
}

func (l *LogSystem) logCapacityExceeded(age, capacity int64) {
	l.metrics.capacityErrors.Inc()
	if time.Since(l.lastCapacityErrorLogged) < 15*time.Second {
		return
	}
	l.lastCapacityErrorLogged = time.Now()
	level.Error(l.logger).Log("msg", "log group capacity exceeded", "age", age, "capacity", capacity)
}

// extendFor reallocates the buffer to fit a record of length n when n
// exceeds half the current buffer size, preserving the unwritten tail
// (the partially filled final block). The caller must hold the log
// mutex; it is released and reacquired around the quiesce wait.
func (l *LogSystem) extendFor(n int) error {
	newPages := n/PageSize + 1
	newSize := newPages * PageSize
	if newSize < len(l.buf)*2 {
		newSize = len(l.buf) * 2
	}

	// wait for any other reservation already mid-retry to settle before
	// committing to a resize; the drain path takes its own copy of the
	// region it writes out, so a resize never races the writer's I/O.
	count := 0
	for l.extending {
		l.mu.Unlock()
		time.Sleep(100 * time.Microsecond)
		count++
		l.mu.Lock()
		if count >= retryBudget {
			l.metrics.retryExhaustions.Inc()
			return ErrRetryExhaustion
		}
	}

	if newSize > 256*1024*1024 {
		return ErrExtendTooLarge
	}

	l.extending = true
	tail := append([]byte(nil), l.buf[:l.bufFree]...)
	l.buf = make([]byte, newSize)
	copy(l.buf, tail)
	l.maxBufFree = newSize - newSize/4
	l.extending = false

	level.Warn(l.logger).Log("msg", "extended log buffer", "new_size", newSize, "record_len", n)
	return nil
}

// compact moves the block-aligned tail of the buffer (the final, possibly
// partial block, from its block start up to bufFree) to offset 0 and
// shifts both cursors by the same amount, called after a drain that left
// the write window past the buffer's midpoint.
func (l *LogSystem) compact() {
	moveStart := (l.bufFree / BlockSize) * BlockSize
	if moveStart == 0 {
		return
	}
	copy(l.buf, l.buf[moveStart:l.bufFree])
	l.bufFree -= moveStart
	l.bufNextToWrite -= moveStart
}
