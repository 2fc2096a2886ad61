package mmap

import "errors"

// AccessPattern is a madvise hint.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	// AccessSequential suits snapshot diffs, which read a blob front to back.
	AccessSequential
	// AccessRandom suits continuation lookups into a capture.
	AccessRandom
	// AccessDontNeed drops the pages once a blob has been copied out.
	AccessDontNeed
)

var (
	ErrClosed        = errors.New("mmap: blob is closed")
	ErrInvalidSize   = errors.New("mmap: blob too large to map")
	ErrInvalidOffset = errors.New("mmap: invalid window")
)
