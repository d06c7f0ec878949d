package redolog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockHeaderRoundTrip(t *testing.T) {
	h := blockHeader{
		blockNo:       blockNoForLSN(LSNStart),
		dataLen:       123,
		firstRecGroup: 12,
		checkpointNo:  7,
	}
	buf := make([]byte, BlockHdrSize)
	encodeBlockHeader(buf, h)

	got := decodeBlockHeader(buf)
	require.Equal(t, h, got)
}

func TestBlockFlushFlag(t *testing.T) {
	h := blockHeader{blockNo: blockNoForLSN(LSNStart)}
	require.False(t, h.flushFlag())

	h.setFlushFlag(true)
	require.True(t, h.flushFlag())
	require.Equal(t, blockNoForLSN(LSNStart), h.number())

	h.setFlushFlag(false)
	require.False(t, h.flushFlag())
}

func TestStampAndVerifyBlockChecksum(t *testing.T) {
	block := make([]byte, BlockSize)
	initBlockHeader(block, LSNStart, 0)
	copy(block[offPayload:], []byte("hello world"))

	stampBlockChecksum(block, FoldedChecksum)
	require.True(t, verifyBlockChecksum(block))

	block[offPayload] ^= 0xFF
	require.False(t, verifyBlockChecksum(block))
}

func TestVerifyBlockChecksumAcceptsEitherAlgorithm(t *testing.T) {
	block := make([]byte, BlockSize)
	initBlockHeader(block, LSNStart, 0)
	copy(block[offPayload:], []byte("second algorithm"))

	stampBlockChecksum(block, StrongChecksum)
	require.True(t, verifyBlockChecksum(block))
}

func TestBlockNoForLSN(t *testing.T) {
	require.Equal(t, uint32(1), blockNoForLSN(LSNStart))
	require.Equal(t, uint32(2), blockNoForLSN(LSNStart+BlockSize))
}
