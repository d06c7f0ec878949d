package redolog

import (
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Checkpoint runs the checkpoint algorithm of §4.6. When sync is true the
// caller blocks until the checkpoint record (and the log bytes up to its
// LSN) are durable; otherwise a checkpoint already in flight is reported
// back via ErrCheckpointInFlight rather than waited on. writeAlways forces
// a checkpoint record to be written even if the oldest dirty page has not
// advanced since the last one, used by shutdown.
func (l *LogSystem) Checkpoint(sync, writeAlways bool) (bool, error) {
	if l.recovery.RecoveryOn() {
		l.recovery.ApplyHashedLogRecs(true)
	}

	if sync {
		l.checkpointLock.Lock()
	} else if !l.checkpointLock.TryLock() {
		return false, ErrCheckpointInFlight
	}
	defer l.checkpointLock.Unlock()

	oldest := l.pool.OldestModificationLSN()

	l.mu.Lock()
	current := l.lsn
	lastCkpt := l.lastCheckpointLSN
	l.mu.Unlock()

	target := oldest
	if !oldest.valid() {
		target = current
	}

	if !writeAlways && target <= lastCkpt {
		return false, nil
	}

	if err := l.WriteUpTo(target, true); err != nil {
		return false, errors.Wrap(err, "redolog: checkpoint durability write")
	}

	l.mu.Lock()
	no := l.nextCheckpointNo
	bufSize := uint32(len(l.buf))
	groups := append([]*Group(nil), l.groups...)
	l.nPendingCheckpointWrites = int32(len(groups))
	l.mu.Unlock()

	slots := make(CheckpointSlotTable, len(groups))
	for i, g := range groups {
		slots[i] = uint64(g.calcSizeOffset(target))
	}

	rec := CheckpointRecord{
		No:          no,
		LSN:         target,
		Offset:      0,
		LogBufSize:  bufSize,
		ArchivedLSN: l.archiver.ArchivedLSN(),
		Groups:      slots,
	}

	slotOffset := int64(CKPT1Offset)
	if no%2 == 1 {
		slotOffset = CKPT2Offset
	}

	buf := make([]byte, CheckpointRecordSize)
	for i, g := range groups {
		c := Completion{Kind: CheckpointWrite, Group: g}
		rec.Offset = slots[i]
		encodeCheckpointRecord(buf, rec)
		if err := g.io.WriteAt(g.ID, 0, slotOffset, buf, true); err != nil {
			l.completeCheckpointWrite(c, false)
			return false, errors.Wrapf(err, "redolog: write checkpoint record group %d", g.ID)
		}
		l.metrics.checkpointWrites.Inc()
		l.completeCheckpointWrite(c, true)
	}

	l.mu.Lock()
	for i, g := range groups {
		g.setAnchor(target, int64(slots[i]))
	}
	l.lastCheckpointLSN = target
	l.nextCheckpointLSN = target
	l.nextCheckpointNo = no + 1
	l.mu.Unlock()

	l.metrics.checkpoints.Inc()
	level.Debug(l.logger).Log("msg", "checkpoint complete", "no", no, "lsn", uint64(target))
	return true, nil
}

// completeCheckpointWrite mirrors io_complete_checkpoint: each group's
// write decrements the pending counter independently, so a partial
// failure still lets the remaining groups' writes land. c carries the
// §9 completion token identifying which group's checkpoint write this
// was, the same shape the normal-write drain path completes with in
// writer.go.
func (l *LogSystem) completeCheckpointWrite(c Completion, ok bool) {
	l.mu.Lock()
	l.nPendingCheckpointWrites--
	l.mu.Unlock()

	if !ok {
		level.Warn(l.logger).Log("msg", "checkpoint write failed", "kind", c.Kind, "group", c.Group.ID)
		return
	}
	level.Debug(l.logger).Log("msg", "checkpoint write complete", "kind", c.Kind, "group", c.Group.ID)
}

// MakeCheckpointAt blocks until a checkpoint has been written at LSN lsn
// or later (LSNMax meaning "whatever is current when it finally runs").
// Each attempt preflushes the buffer pool up to lsn and then runs a
// synchronous checkpoint; after retryBudget attempts without reaching the
// target it returns ErrRetryExhaustion.
func (l *LogSystem) MakeCheckpointAt(lsn LSN, writeAlways bool) error {
	for i := 0; i < retryBudget; i++ {
		l.mu.Lock()
		target := lsn
		if target == LSNMax {
			target = l.lsn
		}
		reached := l.lastCheckpointLSN >= target
		l.mu.Unlock()

		if reached && !writeAlways {
			return nil
		}

		if err := l.Preflush(lsn, true); err != nil {
			return err
		}

		if _, err := l.Checkpoint(true, writeAlways); err != nil && err != ErrCheckpointInFlight {
			return err
		}
		writeAlways = false

		l.mu.Lock()
		reached = l.lastCheckpointLSN >= target
		l.mu.Unlock()
		if reached {
			return nil
		}
	}
	l.metrics.retryExhaustions.Inc()
	return ErrRetryExhaustion
}
