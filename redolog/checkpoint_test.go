package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointNoOpWhenNothingDirty(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	ran, err := l.Checkpoint(true, false)
	require.NoError(t, err)
	require.False(t, ran)
}

func TestCheckpointWriteAlwaysRunsEvenWhenClean(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	ran, err := l.Checkpoint(true, true)
	require.NoError(t, err)
	require.True(t, ran)

	l.mu.Lock()
	no := l.nextCheckpointNo
	l.mu.Unlock()
	require.Equal(t, uint64(1), no)
}

func TestCheckpointAdvancesPastDirtyPage(t *testing.T) {
	pool := newLocalFakePool()
	l, _ := newTestSystem(t, pool)

	lsn := appendRecord(t, l, []byte("page touching record"))
	pool.markDirty(1, lsn)

	ran, err := l.Checkpoint(true, false)
	require.NoError(t, err)
	require.True(t, ran)

	l.mu.Lock()
	last := l.lastCheckpointLSN
	l.mu.Unlock()
	require.Equal(t, lsn, last)
}

func TestMakeCheckpointAtReachesTarget(t *testing.T) {
	pool := newLocalFakePool()
	l, _ := newTestSystem(t, pool)

	lsn := appendRecord(t, l, []byte("some record"))
	pool.markDirty(7, lsn)

	require.NoError(t, l.MakeCheckpointAt(lsn, false))

	l.mu.Lock()
	last := l.lastCheckpointLSN
	l.mu.Unlock()
	require.GreaterOrEqual(t, uint64(last), uint64(lsn))
}

func TestCheckpointRejectsConcurrentNonBlocking(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	l.checkpointLock.Lock()
	defer l.checkpointLock.Unlock()

	_, err := l.Checkpoint(false, true)
	require.ErrorIs(t, err, ErrCheckpointInFlight)
}
