package errs

import "errors"

// Code is the small integer return code surfaced to callers that need
// a numeric status, for example process exit codes.
type Code int

const (
	Success Code = iota
	CodeIO
	CodeMPI
	CodeRst
	CodeHZ
	CodeChunk
	CodeCompress
	CodeFile
	CodeUnknown
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case CodeIO:
		return "err_io"
	case CodeMPI:
		return "err_mpi"
	case CodeRst:
		return "err_rst"
	case CodeHZ:
		return "err_hz"
	case CodeChunk:
		return "err_chunk"
	case CodeCompress:
		return "err_compress"
	case CodeFile:
		return "err_file"
	default:
		return "err_unknown"
	}
}

var codeTable = []struct {
	sentinel error
	code     Code
}{
	{ErrIO, CodeIO},
	{ErrComm, CodeMPI},
	{ErrRestructure, CodeRst},
	{ErrHZ, CodeHZ},
	{ErrChunk, CodeChunk},
	{ErrCompress, CodeCompress},
	{ErrFile, CodeFile},
}

// CodeOf maps an error to its return code. A nil error is Success and an
// error wrapping no stage sentinel is CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}

	for _, entry := range codeTable {
		if errors.Is(err, entry.sentinel) {
			return entry.code
		}
	}

	return CodeUnknown
}
