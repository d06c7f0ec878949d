package redolog

import (
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// WriteUpTo drains the buffer up to target LSN and, if flush is true,
// blocks until those bytes are durable on every group. Only one caller
// performs the actual I/O at a time; the rest park on flushEvent.
func (l *LogSystem) WriteUpTo(target LSN, flush bool) error {
	// Lock-free fast path, valid only when flush is not requested: if the
	// bytes are already submitted to I/O there is nothing to do.
	if !flush && LSN(l.writeLSNFast.Load()) >= target {
		return nil
	}

	l.mu.Lock()

	if (flush && l.flushedToDiskLSN >= target) || (!flush && l.writeLSN >= target) {
		l.mu.Unlock()
		return nil
	}

	if l.flushInProgress && flush {
		covers := l.currentFlushLSN >= target
		l.mu.Unlock()
		l.metrics.flushWaits.Inc()
		// Event's Broadcast holds no lock, so a completion landing in the
		// gap between Unlock above and Wait below is missed rather than
		// queued; the caller then blocks until some later, unrelated
		// broadcast wakes it. Matches common.Event's own behavior.
		l.flushEvent.Wait()
		if covers {
			return nil
		}
		return l.WriteUpTo(target, flush)
	}

	if flush {
		l.nPendingFlushes++
		l.currentFlushLSN = l.lsn
		l.flushInProgress = true
	}

	areaStart := (l.bufNextToWrite / BlockSize) * BlockSize
	areaEnd := ((l.bufFree + BlockSize - 1) / BlockSize) * BlockSize
	if areaEnd > len(l.buf) {
		areaEnd = len(l.buf)
	}

	if areaEnd > areaStart {
		firstHdr := decodeBlockHeader(l.buf[areaStart:])
		firstHdr.setFlushFlag(true)
		encodeBlockHeader(l.buf[areaStart:], firstHdr)

		lastBlockStart := areaEnd - BlockSize
		if lastBlockStart >= areaStart {
			lh := decodeBlockHeader(l.buf[lastBlockStart:])
			lh.checkpointNo = uint32(l.nextCheckpointNo)
			encodeBlockHeader(l.buf[lastBlockStart:], lh)
		}
	}

	region := append([]byte(nil), l.buf[areaStart:areaEnd]...)
	regionStartLSN := l.regionStartLSN(areaStart)
	writeLSN := l.lsn

	// The drain cursor stops at bufFree, not areaEnd: the last block may be
	// partial, and the next drain rewrites it with whatever was appended
	// to it in the meantime.
	l.writeEndOffset = areaEnd
	l.bufNextToWrite = l.bufFree
	l.writeLSN = writeLSN
	l.writeLSNFast.Store(uint64(writeLSN))

	if l.writeEndOffset > l.maxBufFree/2 {
		l.compact()
	}

	groups := append([]*Group(nil), l.groups...)
	waSize := l.cfg.WriteAheadSize
	flushMethod := l.cfg.FlushMethod
	currentFlush := l.currentFlushLSN
	l.mu.Unlock()

	if err := l.drainToGroups(groups, region, regionStartLSN, waSize); err != nil {
		l.mu.Lock()
		if flush {
			l.flushInProgress = false
			l.nPendingFlushes--
			l.flushEvent.Broadcast()
		}
		l.mu.Unlock()
		return errors.Wrap(err, "redolog: drain to groups")
	}

	l.metrics.flushes.Inc()

	if flushMethod.impliesSyncWrite() {
		l.mu.Lock()
		l.flushedToDiskLSN = l.writeLSN
		l.flushInProgress = false
		if flush {
			l.nPendingFlushes--
		}
		l.mu.Unlock()
		if flush {
			l.flushEvent.Broadcast()
		}
		return nil
	}

	l.mu.Lock()
	l.flushInProgress = false
	l.mu.Unlock()

	if !flush {
		return nil
	}

	if flushMethod.needsFsync() {
		start := time.Now()
		for _, g := range groups {
			if err := g.io.Flush(g.ID); err != nil {
				l.mu.Lock()
				l.nPendingFlushes--
				l.mu.Unlock()
				return errors.Wrapf(err, "redolog: fsync group %d", g.ID)
			}
		}
		l.metrics.fsyncDuration.Observe(time.Since(start).Seconds())
	}

	l.mu.Lock()
	l.flushedToDiskLSN = currentFlush
	l.nPendingFlushes--
	l.mu.Unlock()
	l.flushEvent.Broadcast()

	level.Debug(l.logger).Log("msg", "flushed log", "lsn", uint64(currentFlush))
	return nil
}

// regionStartLSN recovers the LSN at which byte offset areaStart in the
// buffer sits, by walking back from the current LSN using the fact that
// areaStart is block-aligned and every full block before it accounts for
// exactly BlockSize LSN units. bufNextToWrite and the blocks between it
// and bufFree share a 1:1 byte-to-LSN correspondence once alignment is
// taken into account, since both advance together in Append/Close.
func (l *LogSystem) regionStartLSN(areaStart int) LSN {
	blocksFromFree := (l.bufFree - areaStart) / BlockSize
	return l.lsn - LSN(blocksFromFree)*BlockSize - LSN(l.bufFree%BlockSize)
}

// drainToGroups writes region (already block-framed bytes starting at
// regionStartLSN) to every group's files via the geometry in group.go,
// splitting at file boundaries and writing a fresh file header whenever a
// write's target offset lands exactly on FileHdrSize.
func (l *LogSystem) drainToGroups(groups []*Group, region []byte, startLSN LSN, writeAheadSize int64) error {
	if len(region) == 0 {
		return nil
	}

	padded := region
	if writeAheadSize > BlockSize {
		rem := int64(len(region)) % writeAheadSize
		if rem != 0 {
			pad := make([]byte, writeAheadSize-rem)
			padded = append(append([]byte(nil), region...), pad...)
		}
	}

	for off := 0; off < len(padded); off += BlockSize {
		end := off + BlockSize
		if end > len(padded) {
			end = len(padded)
		}
		if end-off == BlockSize {
			stampBlockChecksum(padded[off:end], FoldedChecksum)
		}
	}

	for _, g := range groups {
		c := Completion{Kind: NormalWrite, Group: g}
		if err := l.drainToGroup(g, padded, startLSN); err != nil {
			l.completeNormalWrite(c, false)
			return err
		}
		l.completeNormalWrite(c, true)
	}
	return nil
}

// completeNormalWrite observes a group's drain finishing, carrying the
// same §9 completion token completeCheckpointWrite uses for the
// checkpoint-record path.
func (l *LogSystem) completeNormalWrite(c Completion, ok bool) {
	if !ok {
		level.Warn(l.logger).Log("msg", "log write failed", "kind", c.Kind, "group", c.Group.ID)
		return
	}
	level.Debug(l.logger).Log("msg", "log write complete", "kind", c.Kind, "group", c.Group.ID)
}

func (l *LogSystem) drainToGroup(g *Group, data []byte, startLSN LSN) error {
	written := 0
	for written < len(data) {
		lsn := startLSN + LSN(written)
		fileNo, offInFile := g.where(lsn)

		perFile := g.FileSize - FileHdrSize
		spaceInFile := perFile - (offInFile - FileHdrSize)
		chunk := int64(len(data) - written)
		if chunk > spaceInFile {
			chunk = spaceInFile
		}

		if offInFile == FileHdrSize {
			hdr := make([]byte, FileHdrSize)
			encodeFileHeader(hdr, FileHeader{GroupID: g.ID, StartLSN: lsn})
			// only the bytes before CKPT1Offset: the checkpoint slots
			// further into the header region are left intact.
			if err := g.io.WriteAt(g.ID, fileNo, 0, hdr[:CKPT1Offset], false); err != nil {
				return err
			}
		}

		if err := g.io.WriteAt(g.ID, fileNo, offInFile, data[written:written+int(chunk)], false); err != nil {
			return err
		}
		written += int(chunk)
	}
	return nil
}

// BufferFlushToDisk is a blocking request to flush everything currently
// in the buffer to disk.
func (l *LogSystem) BufferFlushToDisk() error {
	l.mu.Lock()
	target := l.lsn
	l.mu.Unlock()
	return l.WriteUpTo(target, true)
}

// BufferSyncInBackground kicks off a drain without blocking the caller;
// if flush is true the caller still does not wait for durability.
func (l *LogSystem) BufferSyncInBackground(flush bool) {
	l.mu.Lock()
	target := l.lsn
	l.mu.Unlock()
	go func() {
		if err := l.WriteUpTo(target, flush); err != nil {
			level.Error(l.logger).Log("msg", "background log sync failed", "err", err)
		}
	}()
}
