package redolog

import (
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgo computes a 32-bit checksum over a log block's header and
// payload (trailer zeroed). The algorithm is pluggable: the on-disk block
// format records no algorithm tag, so a decoder must be able to try every
// accepted variant and accept whichever one verifies.
type ChecksumAlgo interface {
	Name() string
	Sum(data []byte) uint32
}

// foldedAlgo is the fast variant: a 64-bit xxHash folded into 32 bits by
// XORing its halves. Cheaper than a CRC table walk, at the cost of weaker
// guarantees — acceptable for a block-local integrity check backed by a
// second, stronger algorithm.
type foldedAlgo struct{}

func (foldedAlgo) Name() string { return "folded-xxhash" }

func (foldedAlgo) Sum(data []byte) uint32 {
	h := xxhash.Sum64(data)
	return uint32(h) ^ uint32(h>>32)
}

// crc32Algo is the strong variant: CRC-32 with the Castagnoli polynomial,
// the same table iris's WAL package uses for its record checksums.
type crc32Algo struct {
	table *crc32.Table
}

func (crc32Algo) Name() string { return "crc32c" }

func (c crc32Algo) Sum(data []byte) uint32 {
	return crc32.Checksum(data, c.table)
}

var (
	// FoldedChecksum is the default fast algorithm used when writing new
	// blocks.
	FoldedChecksum ChecksumAlgo = foldedAlgo{}

	// StrongChecksum is the CRC32C algorithm. It is accepted when
	// verifying blocks; new blocks are always written with
	// FoldedChecksum, and Config has no option that selects this one.
	StrongChecksum ChecksumAlgo = crc32Algo{table: crc32.MakeTable(crc32.Castagnoli)}

	// acceptedChecksums is the list tried, in order, when verifying a
	// block read back from disk.
	acceptedChecksums = []ChecksumAlgo{FoldedChecksum, StrongChecksum}
)
