package rawimport

import "errors"

// Error kinds surfaced by the importer core. Callers use errors.Is to
// distinguish them; everything else that can go wrong is wrapped with one
// of these as its root cause.
var (
	ErrInvalidArgument   = errors.New("invalid url or local name")
	ErrAlreadyInProgress = errors.New("already downloading this url")
	ErrOverflow          = errors.New("counter overflow")
	ErrTooLarge          = errors.New("image exceeds maximum size")
	ErrIO                = errors.New("transport or filesystem i/o error")
	ErrFilesystem        = errors.New("filesystem error")
)

// RawMaxSize is the hard cap on the uncompressed size of a downloaded
// image (8 GiB), matching RAW_MAX_SIZE in the reference implementation.
// It is a var rather than a const solely so package-internal tests can
// lower it to exercise the boundary without transferring 8 GiB.
var RawMaxSize int64 = 8 * 1024 * 1024 * 1024
