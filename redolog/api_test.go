package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteRecordReturnsClosingLSN(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	lsn, err := l.WriteRecord([]byte("a record written through the bundled entry point"))
	require.NoError(t, err)
	require.Greater(t, uint64(lsn), uint64(LSNStart))
}

func TestWriteRecordForPageFeedsChangeTracker(t *testing.T) {
	dir := t.TempDir()
	fio, err := NewOSFileIO(dir)
	require.NoError(t, err)

	l, err := Init(Config{BufSize: 64 * 1024, ThreadConcurrency: 1, TrackChangedPages: true}, newLocalFakePool(), fio, nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.GroupInit(0, 2, 1<<20, 0, 0))

	tracker, ok := l.tracker.(*bitmapTracker)
	require.True(t, ok)
	require.True(t, tracker.Enabled())

	lsn, err := l.WriteRecordForPage(42, []byte("page 42's modification"))
	require.NoError(t, err)

	tracker.mu.Lock()
	got, tracked := tracker.touched[42]
	tracker.mu.Unlock()
	require.True(t, tracked)
	require.Equal(t, lsn, got)
}

func TestWriteRecordForPageNoopWhenTrackingOff(t *testing.T) {
	l, _ := newTestSystem(t, newLocalFakePool())

	_, ok := l.tracker.(*bitmapTracker)
	require.False(t, ok)

	_, err := l.WriteRecordForPage(7, []byte("untracked page write"))
	require.NoError(t, err)
}
