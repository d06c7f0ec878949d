package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumAlgosDiffer(t *testing.T) {
	data := []byte("redo log checksum fixture")
	require.NotEqual(t, FoldedChecksum.Sum(data), StrongChecksum.Sum(data))
}

func TestChecksumIsDeterministic(t *testing.T) {
	data := []byte("redo log checksum fixture")
	require.Equal(t, FoldedChecksum.Sum(data), FoldedChecksum.Sum(append([]byte(nil), data...)))
}

func TestAcceptedChecksumsIncludesBoth(t *testing.T) {
	require.Len(t, acceptedChecksums, 2)
}
