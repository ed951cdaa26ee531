// Package errs defines the sentinel errors returned by idxio.
//
// Every error produced by the engine wraps exactly one stage sentinel
// (ErrIO, ErrComm, ErrRestructure, ErrHZ, ErrChunk, ErrCompress, ErrFile),
// so callers can classify a failure with errors.Is or map it to a return
// code with CodeOf.
package errs

import (
	"errors"
	"fmt"
)

// Stage sentinels.
var (
	ErrIO          = errors.New("io error")
	ErrComm        = errors.New("communication error")
	ErrRestructure = errors.New("restructuring error")
	ErrHZ          = errors.New("hz encoding error")
	ErrChunk       = errors.New("chunking error")
	ErrCompress    = errors.New("compression error")
	ErrFile        = errors.New("file error")
)

// Specific errors, each wrapping a stage sentinel.
var (
	ErrInvalidBitPattern = fmt.Errorf("%w: invalid bit pattern", ErrFile)
	ErrInvalidBox        = fmt.Errorf("%w: invalid box", ErrFile)
	ErrInvalidDataType   = fmt.Errorf("%w: invalid data type", ErrFile)
	ErrInvalidOption     = fmt.Errorf("%w: invalid option", ErrFile)
	ErrMissingTag        = fmt.Errorf("%w: missing metadata tag", ErrFile)
	ErrMalformedMetadata = fmt.Errorf("%w: malformed metadata", ErrFile)
	ErrUnknownVariable   = fmt.Errorf("%w: unknown variable", ErrFile)

	ErrShortWrite        = fmt.Errorf("%w: short write", ErrIO)
	ErrShortRead         = fmt.Errorf("%w: short read", ErrIO)
	ErrInvalidHeaderSize = fmt.Errorf("%w: invalid header size", ErrIO)
	ErrHeaderChecksum    = fmt.Errorf("%w: header checksum mismatch", ErrIO)
	ErrInvalidMagic      = fmt.Errorf("%w: invalid header magic", ErrIO)
	ErrInvalidHeaderFlag = fmt.Errorf("%w: invalid header flags", ErrIO)

	ErrAborted      = fmt.Errorf("%w: job aborted", ErrComm)
	ErrInvalidRank  = fmt.Errorf("%w: invalid rank", ErrComm)
	ErrSizeMismatch = fmt.Errorf("%w: collective size mismatch", ErrComm)

	ErrPatchOverlap = fmt.Errorf("%w: overlapping patches", ErrRestructure)
	ErrPatchBuffer  = fmt.Errorf("%w: patch buffer size mismatch", ErrRestructure)
	ErrOutOfBounds  = fmt.Errorf("%w: coordinate out of bounds", ErrHZ)
	ErrChunkSize    = fmt.Errorf("%w: chunk size must be a power of two", ErrChunk)
	ErrUnknownCodec = fmt.Errorf("%w: unknown codec", ErrCompress)
	ErrCorruptBlock = fmt.Errorf("%w: corrupt block", ErrCompress)
)
