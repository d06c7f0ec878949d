package redolog

import "encoding/binary"

// Block layout, bit-exact per the on-disk format:
//
//	header (12 bytes): blockNo(4, high bit = flush flag) | dataLen(2) | firstRecGroup(2) | checkpointNo(4)
//	payload: up to BlockSize - BlockHdrSize - BlockTrlSize bytes
//	trailer (4 bytes): checksum over header+payload with trailer zeroed
const (
	BlockSize    = 512
	BlockHdrSize = 12
	BlockTrlSize = 4
	BlockDataCap = BlockSize - BlockHdrSize - BlockTrlSize

	blockFlushBit uint32 = 1 << 31
	blockNoMask   uint32 = blockFlushBit - 1
)

const (
	offBlockNo       = 0
	offDataLen       = 4
	offFirstRecGroup = 6
	offCheckpointNo  = 8
	offPayload       = BlockHdrSize
)

func trailerOffset() int { return BlockSize - BlockTrlSize }

// blockHeader is the decoded form of a block's 12-byte header.
type blockHeader struct {
	blockNo       uint32 // low 31 bits; bit 31 is the flush flag
	dataLen       uint16
	firstRecGroup uint16
	checkpointNo  uint32
}

func (h blockHeader) flushFlag() bool   { return h.blockNo&blockFlushBit != 0 }
func (h *blockHeader) setFlushFlag(v bool) {
	if v {
		h.blockNo |= blockFlushBit
	} else {
		h.blockNo &^= blockFlushBit
	}
}
func (h blockHeader) number() uint32 { return h.blockNo & blockNoMask }

// blockNoForLSN computes the block number for LSN L as
// ((L - LSNStart) / BlockSize) + 1, per §4.1.
func blockNoForLSN(l LSN) uint32 {
	return uint32((uint64(l)-uint64(LSNStart))/BlockSize) + 1
}

func encodeBlockHeader(dest []byte, h blockHeader) {
	binary.BigEndian.PutUint32(dest[offBlockNo:], h.blockNo)
	binary.BigEndian.PutUint16(dest[offDataLen:], h.dataLen)
	binary.BigEndian.PutUint16(dest[offFirstRecGroup:], h.firstRecGroup)
	binary.BigEndian.PutUint32(dest[offCheckpointNo:], h.checkpointNo)
}

func decodeBlockHeader(src []byte) blockHeader {
	return blockHeader{
		blockNo:       binary.BigEndian.Uint32(src[offBlockNo:]),
		dataLen:       binary.BigEndian.Uint16(src[offDataLen:]),
		firstRecGroup: binary.BigEndian.Uint16(src[offFirstRecGroup:]),
		checkpointNo:  binary.BigEndian.Uint32(src[offCheckpointNo:]),
	}
}

// stampBlockChecksum computes the trailer checksum over the whole block
// with the trailer zeroed, and writes it. Must be called immediately
// before the block is handed to the writer — not earlier, since the
// checkpoint number stamped in the header may still change while the
// block sits in the buffer.
func stampBlockChecksum(block []byte, algo ChecksumAlgo) {
	trl := trailerOffset()
	for i := 0; i < BlockTrlSize; i++ {
		block[trl+i] = 0
	}
	sum := algo.Sum(block)
	binary.BigEndian.PutUint32(block[trl:], sum)
}

// verifyBlockChecksum tries every accepted checksum algorithm against the
// stored trailer, since the persisted format carries no algorithm tag.
func verifyBlockChecksum(block []byte) bool {
	trl := trailerOffset()
	stored := binary.BigEndian.Uint32(block[trl:])

	scratch := make([]byte, len(block))
	copy(scratch, block)
	for i := 0; i < BlockTrlSize; i++ {
		scratch[trl+i] = 0
	}

	for _, algo := range acceptedChecksums {
		if algo.Sum(scratch) == stored {
			return true
		}
	}
	return false
}

// initBlockHeader writes a fresh header for the block starting at lsn,
// with no data yet and no record-group start recorded.
func initBlockHeader(block []byte, lsn LSN, checkpointNo uint64) {
	h := blockHeader{
		blockNo:      blockNoForLSN(lsn),
		checkpointNo: uint32(checkpointNo),
	}
	encodeBlockHeader(block[:offPayload], h)
}
