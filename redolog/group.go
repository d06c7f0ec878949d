package redolog

import (
	"encoding/binary"
)

// File layout, bit-exact per §6.3.
const (
	FileHdrSize = 2048

	fileHdrOffGroupID   = 0
	fileHdrOffStartLSN  = 4
	fileHdrOffCreatedBy = 12 // 32 bytes, spaces when absent
	fileHdrCreatedBySz  = 32

	// CKPT1Offset and CKPT2Offset are the two fixed-offset checkpoint
	// slots within a file's header region. Checkpoints alternate between
	// them so that a crash mid-write always leaves one valid record.
	CKPT1Offset = 512
	CKPT2Offset = 1536
)

// FileHeader is the first FileHdrSize bytes of every log file.
type FileHeader struct {
	GroupID          uint32
	StartLSN         LSN
	CreatedByBackup  string // padded with spaces when absent, per §3
}

func encodeFileHeader(dest []byte, h FileHeader) {
	binary.BigEndian.PutUint32(dest[fileHdrOffGroupID:], h.GroupID)
	binary.BigEndian.PutUint64(dest[fileHdrOffStartLSN:], uint64(h.StartLSN))
	label := make([]byte, fileHdrCreatedBySz)
	for i := range label {
		label[i] = ' '
	}
	copy(label, h.CreatedByBackup)
	copy(dest[fileHdrOffCreatedBy:fileHdrOffCreatedBy+fileHdrCreatedBySz], label)
}

func decodeFileHeader(src []byte) FileHeader {
	return FileHeader{
		GroupID:         binary.BigEndian.Uint32(src[fileHdrOffGroupID:]),
		StartLSN:        LSN(binary.BigEndian.Uint64(src[fileHdrOffStartLSN:])),
		CreatedByBackup: string(src[fileHdrOffCreatedBy : fileHdrOffCreatedBy+fileHdrCreatedBySz]),
	}
}

// CheckpointSlotTable records, per group, the byte offset at which that
// group's checkpoint-time log position sits. One entry per group in the
// log system, written into every group's checkpoint record so that a
// recovering reader can locate every group's position from any one
// checkpoint.
type CheckpointSlotTable []uint64

// CheckpointRecord is written into CKPT1Offset or CKPT2Offset of a group's
// first file, alternating by parity of No, per §3 and §4.6.
type CheckpointRecord struct {
	No          uint64
	LSN         LSN
	Offset      uint64 // byte offset within the group
	LogBufSize  uint32
	ArchivedLSN LSN // LSNMax if archiving is off
	Groups      CheckpointSlotTable
	Checksum1   uint32 // covers [0, checksum1Offset)
	Checksum2   uint32 // covers [lsnOffset, checksum2Offset)
}

const (
	ckptOffNo          = 0
	ckptOffLSN          = 8
	ckptOffOffsetLow   = 16
	ckptOffOffsetHigh  = 20
	ckptOffLogBufSize  = 24
	ckptOffArchivedLSN = 28
	ckptOffGroupsLen   = 36
	ckptOffGroupsStart = 40

	// maxCheckpointGroups bounds the slot table so a checkpoint record
	// always fits comfortably inside one file-header region.
	maxCheckpointGroups = 32

	ckptChecksum1Offset = ckptOffGroupsStart + maxCheckpointGroups*8
	ckptChecksum2Offset = ckptChecksum1Offset + 4
	CheckpointRecordSize = ckptChecksum2Offset + 4
)

func encodeCheckpointRecord(dest []byte, r CheckpointRecord) {
	binary.BigEndian.PutUint64(dest[ckptOffNo:], r.No)
	binary.BigEndian.PutUint64(dest[ckptOffLSN:], uint64(r.LSN))
	binary.BigEndian.PutUint32(dest[ckptOffOffsetLow:], uint32(r.Offset))
	binary.BigEndian.PutUint32(dest[ckptOffOffsetHigh:], uint32(r.Offset>>32))
	binary.BigEndian.PutUint32(dest[ckptOffLogBufSize:], r.LogBufSize)
	binary.BigEndian.PutUint64(dest[ckptOffArchivedLSN:], uint64(r.ArchivedLSN))
	binary.BigEndian.PutUint32(dest[ckptOffGroupsLen:], uint32(len(r.Groups)))
	for i, off := range r.Groups {
		if i >= maxCheckpointGroups {
			break
		}
		binary.BigEndian.PutUint64(dest[ckptOffGroupsStart+i*8:], off)
	}

	// Two folded checksums over overlapping ranges: the first covers
	// every field before it, the second covers from the LSN field up to
	// itself (the first checksum included), so the LSN is proved not
	// torn relative to the slot table that follows it.
	c1 := FoldedChecksum.Sum(dest[:ckptChecksum1Offset])
	binary.BigEndian.PutUint32(dest[ckptChecksum1Offset:], c1)

	c2 := FoldedChecksum.Sum(dest[ckptOffLSN:ckptChecksum2Offset])
	binary.BigEndian.PutUint32(dest[ckptChecksum2Offset:], c2)
}

func decodeCheckpointRecord(src []byte) CheckpointRecord {
	n := binary.BigEndian.Uint32(src[ckptOffGroupsLen:])
	if n > maxCheckpointGroups {
		n = maxCheckpointGroups
	}
	groups := make(CheckpointSlotTable, n)
	for i := range groups {
		groups[i] = binary.BigEndian.Uint64(src[ckptOffGroupsStart+i*8:])
	}

	offset := uint64(binary.BigEndian.Uint32(src[ckptOffOffsetLow:])) |
		uint64(binary.BigEndian.Uint32(src[ckptOffOffsetHigh:]))<<32

	return CheckpointRecord{
		No:          binary.BigEndian.Uint64(src[ckptOffNo:]),
		LSN:         LSN(binary.BigEndian.Uint64(src[ckptOffLSN:])),
		Offset:      offset,
		LogBufSize:  binary.BigEndian.Uint32(src[ckptOffLogBufSize:]),
		ArchivedLSN: LSN(binary.BigEndian.Uint64(src[ckptOffArchivedLSN:])),
		Groups:      groups,
		Checksum1:   binary.BigEndian.Uint32(src[ckptChecksum1Offset:]),
		Checksum2:   binary.BigEndian.Uint32(src[ckptChecksum2Offset:]),
	}
}

// verifyCheckpointRecord recomputes both folded checksums and compares
// them against the stored values.
func verifyCheckpointRecord(src []byte) bool {
	c1 := FoldedChecksum.Sum(src[:ckptChecksum1Offset])
	if binary.BigEndian.Uint32(src[ckptChecksum1Offset:]) != c1 {
		return false
	}
	c2 := FoldedChecksum.Sum(src[ckptOffLSN:ckptChecksum2Offset])
	return binary.BigEndian.Uint32(src[ckptChecksum2Offset:]) == c2
}

// Group is an ordered, fixed-length ring of nFiles log files of identical
// fileSize. LSNs map onto it as a ring: wrapping past the last file
// returns to the start of the first file, skipping file-header regions.
type Group struct {
	ID             uint32
	NFiles         int
	FileSize       int64
	SpaceID        uint32
	ArchiveSpaceID uint32

	io FileIO

	// anchor is some previously-known (lsn, sizeOffset) correspondence,
	// typically the last checkpoint. All offset math is relative to it.
	anchorLSN    LSN
	anchorOffset int64 // size offset, file headers excluded
}

// Capacity returns the usable bytes in the group: every file's payload
// region, excluding its FileHdrSize header.
func (g *Group) Capacity() int64 {
	return (g.FileSize - FileHdrSize) * int64(g.NFiles)
}

// setAnchor records a fresh (lsn, sizeOffset) correspondence, normally
// called right after a checkpoint advances.
func (g *Group) setAnchor(lsn LSN, sizeOffset int64) {
	g.anchorLSN = lsn
	g.anchorOffset = sizeOffset
}

// calcSizeOffset computes the offset within the group's logical address
// space (file headers excluded) for LSN l, relative to the group's
// anchor, wrapping modulo capacity. Handles l < anchorLSN via modular
// arithmetic, as required when the ring has wrapped.
func (g *Group) calcSizeOffset(l LSN) int64 {
	cap := g.Capacity()
	delta := int64(l) - int64(g.anchorLSN)
	off := (g.anchorOffset + delta) % cap
	if off < 0 {
		off += cap
	}
	return off
}

// calcRealOffset re-expands a size offset into (fileNo, offsetInFile) by
// re-inserting one FileHdrSize per whole-file step.
func (g *Group) calcRealOffset(sizeOffset int64) (fileNo int, offsetInFile int64) {
	perFile := g.FileSize - FileHdrSize
	fileNo = int(sizeOffset / perFile)
	offsetInFile = FileHdrSize + sizeOffset%perFile
	return fileNo, offsetInFile
}

// where returns the (fileNo, offsetInFile) that LSN l lands at within the
// group. Apart from the pure CalcWhereLSNIs below, this is the only
// function in the package that constructs a file offset from an LSN.
func (g *Group) where(l LSN) (fileNo int, offsetInFile int64) {
	return g.calcRealOffset(g.calcSizeOffset(l))
}

// CalcWhereLSNIs is the pure, recovery-visible form of the LSN-to-offset
// mapping: given the LSN stored in file 0's header (the group's anchor at
// its earliest state, "first header LSN"), locate LSN l within a group of
// nFiles files of fileSize bytes each, with no prior anchor needed.
func CalcWhereLSNIs(firstHeaderLSN LSN, l LSN, nFiles int, fileSize int64) (fileNo int, offsetInFile int64) {
	capacity := (fileSize - FileHdrSize) * int64(nFiles)
	delta := int64(l) - int64(firstHeaderLSN)
	sizeOffset := delta % capacity
	if sizeOffset < 0 {
		sizeOffset += capacity
	}
	perFile := fileSize - FileHdrSize
	fileNo = int(sizeOffset / perFile)
	offsetInFile = FileHdrSize + sizeOffset%perFile
	return fileNo, offsetInFile
}
