package redolog

// LSN is a 64-bit monotonically increasing byte position in the logical
// log stream. Framing overhead (block headers and trailers) consumes LSN
// space exactly like record bytes do.
type LSN uint64

// LSNNone means "no LSN" — used for the oldest-dirty LSN when the buffer
// pool is clean.
const LSNNone LSN = 0

// LSNMax is returned by collaborators to mean "wait for everything".
const LSNMax LSN = ^LSN(0)

// LSNStart is where the first log block begins; LSN 0 is reserved. The
// first LSN actually handed out by reserve_and_open is LSNStart plus the
// first block's header, since the header occupies LSN space too.
const LSNStart LSN = 8192

func (l LSN) valid() bool { return l != LSNNone }
