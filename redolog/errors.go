package redolog

import "errors"

// Sentinel errors for the error kinds enumerated in the design's error
// handling section. Callers compare with errors.Is; pkg/errors.Wrap adds
// call-site context (group index, LSN) without losing the sentinel.
var (
	// ErrCapacityExceeded is returned by ReserveAndOpen once
	// lsn - last_checkpoint_lsn has reached the smallest group's capacity,
	// so no writer is admitted until a checkpoint advances
	// last_checkpoint_lsn. Close logs the same condition (throttled) and
	// flags a margin check.
	ErrCapacityExceeded = errors.New("redolog: log group capacity exceeded, checkpoint is not keeping up")

	// ErrGroupTooSmall is returned from GroupInit when the reserved
	// per-thread headroom exceeds half of the smallest group's capacity.
	ErrGroupTooSmall = errors.New("redolog: log group too small for configured thread concurrency")

	// ErrExtendTooLarge is returned when the buffer size a single record
	// would need exceeds the 256 MiB extension ceiling.
	ErrExtendTooLarge = errors.New("redolog: log record too large to fit in an extended log buffer")

	// ErrRetryExhaustion is returned when a bounded retry loop (reserve,
	// margin check) made no progress within its retry budget.
	ErrRetryExhaustion = errors.New("redolog: bounded retry loop exhausted without making progress")

	// ErrChecksumMismatch names the condition in which neither accepted
	// checksum algorithm validates a block's trailer. verifyBlockChecksum
	// reports that condition as false; no function in this package
	// returns this error.
	ErrChecksumMismatch = errors.New("redolog: log block checksum mismatch")

	// ErrShutdown reports that the log system is shutting down. No
	// function in this package returns it; operations invoked after
	// Shutdown are not rejected with it.
	ErrShutdown = errors.New("redolog: log system is shutting down")

	// ErrCheckpointInFlight is returned by a non-blocking Checkpoint call
	// when a checkpoint write is already in progress for some group.
	ErrCheckpointInFlight = errors.New("redolog: a checkpoint write is already in flight")

	// ErrReadOnly is returned by any mutating operation when the engine
	// was configured read-only.
	ErrReadOnly = errors.New("redolog: log system is read-only")
)
