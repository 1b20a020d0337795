package akashic

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout means the advisory lock on a stream file could not be
	// acquired within the bounded window. Fatal for the current append.
	ErrLockTimeout = errors.New("akashic: stream lock timeout")

	// ErrChainBroken means a stream failed hash-chain verification.
	ErrChainBroken = errors.New("akashic: hash chain broken")

	// ErrStreamNotFound means the requested stream has no events file.
	ErrStreamNotFound = errors.New("akashic: stream not found")
)

// StorageError wraps an I/O or locking failure with the operation and
// stream it occurred on.
type StorageError struct {
	Op     string
	Stream string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("akashic: %s on stream %q: %v", e.Op, e.Stream, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, stream string, err error) error {
	return &StorageError{Op: op, Stream: stream, Err: err}
}
