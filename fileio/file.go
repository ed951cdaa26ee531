package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/section"
)

// Files keeps the data files of one rank open across a write or read call.
// It is safe for concurrent use.
type Files struct {
	mu    sync.Mutex
	write bool
	open  map[string]*os.File
}

// NewFiles returns an empty file set. With write set, files and their
// directories are created on first use.
func NewFiles(write bool) *Files {
	return &Files{write: write, open: make(map[string]*os.File)}
}

// Get returns the open file at path, opening it on first use.
//
// Returns:
//   - *os.File: Open file
//   - error: os.ErrNotExist wrapped in ErrIO when reading a missing file
func (fs *Files) Get(path string) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.open[path]; ok {
		return f, nil
	}

	var (
		f   *os.File
		err error
	)
	if fs.write {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
		}
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	fs.open[path] = f

	return f, nil
}

// Close closes every open file and returns their combined errors.
func (fs *Files) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var err error
	for path, f := range fs.open {
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: close %s: %w", errs.ErrIO, path, cerr))
		}
	}
	fs.open = make(map[string]*os.File)

	return err
}

// WriteFull writes all of data at off. A short write is ErrShortWrite.
func WriteFull(w io.WriterAt, data []byte, off int64) error {
	if len(data) == 0 {
		return nil
	}

	n, err := w.WriteAt(data, off)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes at %d", errs.ErrShortWrite, n, len(data), off)
	}

	return nil
}

// ReadFull fills buf from off. Reading past the end of the file is
// ErrShortRead.
func ReadFull(r io.ReaderAt, buf []byte, off int64) error {
	if len(buf) == 0 {
		return nil
	}

	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	return fmt.Errorf("%w: %d of %d bytes at %d", errs.ErrShortRead, n, len(buf), off)
}

// WriteHeader writes a file header at the start of w.
func WriteHeader(w io.WriterAt, h *section.FileHeader) error {
	return WriteFull(w, h.Bytes(), 0)
}

// ReadHeader reads and parses the header at the start of r.
func ReadHeader(r io.ReaderAt) (*section.FileHeader, error) {
	prefix := make([]byte, section.PrefixSize)
	if err := ReadFull(r, prefix, 0); err != nil {
		return nil, err
	}

	size, err := section.PrefixDataOffset(prefix)
	if err != nil {
		return nil, err
	}
	if size < section.PrefixSize {
		return nil, fmt.Errorf("%w: header of %d bytes", errs.ErrInvalidHeaderSize, size)
	}

	data := make([]byte, size)
	if err := ReadFull(r, data, 0); err != nil {
		return nil, err
	}

	return section.ParseFileHeader(data)
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
