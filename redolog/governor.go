package redolog

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/log/level"

	"redolog/common"
)

// CheckMargins inspects the current ages against the thresholds computed
// at GroupInit and triggers preflush/checkpoint/flush as needed. It acts
// only when checkFlushOrCheckpoint is set (Close sets it) and clears it.
// WriteRecord and WriteRecordForPage call it right after Close, and the
// background governor loop calls it periodically.
func (l *LogSystem) CheckMargins() error {
	l.mu.Lock()
	lsn := l.lsn
	lastCkpt := l.lastCheckpointLSN
	bufFree := l.bufFree
	maxBufFree := l.maxBufFree
	thresholds := l.thresholds
	shouldCheck := l.checkFlushOrCheckpoint
	l.checkFlushOrCheckpoint = false
	l.mu.Unlock()

	if !shouldCheck {
		return nil
	}

	oldest := l.pool.OldestModificationLSN()
	modifiedAge := int64(0)
	if oldest.valid() {
		modifiedAge = int64(lsn) - int64(oldest)
	}
	checkpointAge := int64(lsn) - int64(lastCkpt)

	l.metrics.modifiedAge.Set(float64(modifiedAge))
	l.metrics.checkpointAge.Set(float64(checkpointAge))
	l.metrics.bufferFillRatio.Set(float64(bufFree) / float64(len(l.bufSnapshot())))

	if oldest.valid() && modifiedAge > thresholds.maxModifiedAgeSync {
		newOldest := oldest + LSN(2*(modifiedAge-thresholds.maxModifiedAgeSync))
		if err := l.Preflush(newOldest, true); err != nil {
			level.Error(l.logger).Log("msg", "sync preflush failed", "err", err)
		}
	}

	if checkpointAge > thresholds.maxCheckpointAge {
		if _, err := l.Checkpoint(true, false); err != nil {
			level.Error(l.logger).Log("msg", "sync checkpoint failed", "err", err)
		}
	} else if checkpointAge > thresholds.maxCheckpointAgeAsync {
		go func() {
			if _, err := l.Checkpoint(false, false); err != nil {
				level.Error(l.logger).Log("msg", "async checkpoint failed", "err", err)
			}
		}()
	}

	if bufFree > maxBufFree {
		l.BufferSyncInBackground(false)
	}

	return nil
}

func (l *LogSystem) bufSnapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf
}

// Preflush asks the buffer pool to flush dirty pages until the oldest
// modification LSN reaches newOldest; LSNMax means every page dirtied so
// far. When sync is true it blocks on the pool's flush-list call;
// otherwise, if a background page cleaner is assumed active, it polls up
// to 16 times, sleeping a random 0..2^i-1 ms before attempt i+1, and
// returns nil once the cleaner has caught up or the attempts run out.
func (l *LogSystem) Preflush(newOldest LSN, sync bool) error {
	if newOldest == LSNMax {
		// every page dirtied by log written so far, including a page
		// whose modification LSN is the current lsn itself.
		newOldest = l.currentLSN() + 1
	}

	if sync || l.cfg.ForegroundPreflush {
		_, _, err := l.pool.FlushLists(0, newOldest)
		if err != nil {
			return err
		}
		l.pool.WaitBatchEnd(0)
		return nil
	}

	for i := 0; i < 16; i++ {
		if l.pool.OldestModificationLSN() >= newOldest || l.pool.OldestModificationLSN() == LSNNone {
			return nil
		}
		backoff := time.Duration(rand.Intn(1<<i)) * time.Millisecond
		time.Sleep(backoff)
	}
	return nil
}

func (l *LogSystem) currentLSN() LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lsn
}

// RunGovernor starts the background ticker that periodically calls
// CheckMargins until ctx is cancelled, mirroring the source's
// srv_master/log-checkpoint background thread.
func (l *LogSystem) RunGovernor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(common.LogTimeout * 10)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if l.shutdownState.Load() != int32(ShutdownNone) {
					return
				}
				if err := l.CheckMargins(); err != nil {
					level.Error(l.logger).Log("msg", "governor check failed", "err", err)
				}
			}
		}
	}()
}
