package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func appendRecord(t *testing.T, l *LogSystem, data []byte) LSN {
	t.Helper()
	l.Lock()
	_, err := l.ReserveAndOpen(len(data))
	require.NoError(t, err)
	l.Append(data)
	lsn := l.Close()
	l.Unlock()
	return lsn
}

func TestWriteUpToDrainsAndFlushes(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	lsn := appendRecord(t, l, []byte("first record payload"))

	require.NoError(t, l.WriteUpTo(lsn, true))

	l.mu.Lock()
	flushed := l.flushedToDiskLSN
	l.mu.Unlock()
	require.GreaterOrEqual(t, uint64(flushed), uint64(lsn)-BlockSize)
}

func TestBufferFlushToDiskIsIdempotent(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	appendRecord(t, l, []byte("payload one"))
	require.NoError(t, l.BufferFlushToDisk())
	require.NoError(t, l.BufferFlushToDisk())
}

func TestWriteUpToFastPathSkipsWhenAlreadyWritten(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	lsn := appendRecord(t, l, []byte("payload"))
	require.NoError(t, l.WriteUpTo(lsn, false))

	// Second call with flush=false should hit the lock-free fast path and
	// return immediately without error.
	require.NoError(t, l.WriteUpTo(lsn, false))
}

func TestDrainWritesFileHeaderAtFileStart(t *testing.T) {
	l, fio := newTestSystem(t, newLocalFakePool())

	lsn := appendRecord(t, l, []byte("payload to force a drain"))
	require.NoError(t, l.WriteUpTo(lsn, true))

	hdr := make([]byte, FileHdrSize)
	require.NoError(t, fio.ReadAt(0, 0, 0, hdr))

	got := decodeFileHeader(hdr)
	require.Equal(t, uint32(0), got.GroupID)
}
