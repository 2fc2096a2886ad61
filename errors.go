package memgo

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/memgo/aob"
	"github.com/hupe1980/memgo/buffer"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/searcher"
	"github.com/hupe1980/memgo/value"
)

var (
	// ErrInvalidValue is returned for malformed search text or patterns. It
	// is raised before any memory is touched.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidOperation is returned for operations that do not apply to the
	// value kind or to the current state, e.g. a memory operation without
	// previous results.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrUnreadableRegion is returned when a direct read or write touches
	// unmapped or protected memory. Scans skip such regions instead.
	ErrUnreadableRegion = errors.New("unreadable region")
	// ErrProcessLost is returned when the target process exited. The results
	// from before the failed round are preserved.
	ErrProcessLost = errors.New("process lost")
	// ErrNoCandidates is returned when a signature catalog has no valid
	// candidate. The catalog is kept for a retry.
	ErrNoCandidates = errors.New("no signature candidates")
	// ErrAmbiguous is returned when a signature catalog still locates more
	// than one address.
	ErrAmbiguous = errors.New("ambiguous signature")
	// ErrBufferMismatch reports an internal invariant violation.
	ErrBufferMismatch = errors.New("buffer mismatch")
	// ErrNotFound is returned for unknown processes, captures and catalogs.
	ErrNotFound = errors.New("not found")
	// ErrNoResults is returned when the session has no result generation.
	ErrNoResults = errors.New("no results")
	// ErrBusy is returned when a round or walk is already running.
	ErrBusy = errors.New("busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("closed")
)

// translateError maps package errors onto the public contract. The original
// error stays reachable through errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, value.ErrInvalidValue):
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	case errors.Is(err, operation.ErrInvalidOperation):
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	case errors.Is(err, process.ErrProcessLost):
		return fmt.Errorf("%w: %w", ErrProcessLost, err)
	case errors.Is(err, process.ErrUnreadableRegion):
		return fmt.Errorf("%w: %w", ErrUnreadableRegion, err)
	case errors.Is(err, buffer.ErrBufferMismatch):
		return fmt.Errorf("%w: %w", ErrBufferMismatch, err)
	case errors.Is(err, aob.ErrNoCandidates):
		return fmt.Errorf("%w: %w", ErrNoCandidates, err)
	case errors.Is(err, aob.ErrAmbiguous):
		return fmt.Errorf("%w: %w", ErrAmbiguous, err)
	case errors.Is(err, results.ErrEmpty):
		return fmt.Errorf("%w: %w", ErrNoResults, err)
	case errors.Is(err, searcher.ErrBusy), errors.Is(err, results.ErrRoundInProgress):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, results.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, process.ErrNotFound), errors.Is(err, capture.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
