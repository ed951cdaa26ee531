package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"nil", nil, Success},
		{"short write", ErrShortWrite, CodeIO},
		{"wrapped short read", fmt.Errorf("file 3: %w", ErrShortRead), CodeIO},
		{"aborted", ErrAborted, CodeMPI},
		{"pattern", ErrInvalidBitPattern, CodeFile},
		{"patch buffer", ErrPatchBuffer, CodeRst},
		{"out of bounds", ErrOutOfBounds, CodeHZ},
		{"chunk", ErrChunkSize, CodeChunk},
		{"codec", ErrUnknownCodec, CodeCompress},
		{"foreign", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "success", Success.String())
	require.Equal(t, "err_mpi", CodeMPI.String())
	require.Equal(t, "err_unknown", Code(42).String())
}
