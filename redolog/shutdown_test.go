package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVeryFastShutdownSkipsCheckpoint(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	appendRecord(t, l, []byte("payload before shutdown"))

	require.NoError(t, l.Shutdown(true))
	require.Equal(t, int32(ShutdownLastPhase), l.shutdownState.Load())

	l.mu.Lock()
	no := l.nextCheckpointNo
	l.mu.Unlock()
	require.Equal(t, uint64(0), no)
}

func TestNormalShutdownRunsFinalCheckpoint(t *testing.T) {
	pool := newLocalFakePool()
	l, _ := newTestSystem(t, pool)

	lsn := appendRecord(t, l, []byte("payload before shutdown"))
	pool.markDirty(3, lsn)

	require.NoError(t, l.Shutdown(false))

	l.mu.Lock()
	last := l.lastCheckpointLSN
	l.mu.Unlock()
	require.GreaterOrEqual(t, uint64(last), uint64(lsn))
}

func TestShutdownRejectsRegressedLSN(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	l.mu.Lock()
	l.lastLSNAtStart = l.lsn + 1_000_000
	l.mu.Unlock()

	err := l.Shutdown(false)
	require.Error(t, err)
}
