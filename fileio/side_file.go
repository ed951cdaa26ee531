package fileio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/internal/hash"
)

// SideFileSuffix ends the name of the patch table written next to the
// per-patch files of raw and particle datasets.
const SideFileSuffix = "_OFFSET_SIZE"

// entryWords is the number of 64-bit words of one encoded PatchEntry.
const entryWords = 2*geom.MaxDims + 1

// PatchEntry describes one patch file: the box it covers and a count, the
// payload size for raw data or the particle count for particles.
//
// Particle boxes are physical; their coordinates are stored as the bits of
// float64 values (math.Float64bits).
type PatchEntry struct {
	Offset [geom.MaxDims]uint64
	Size   [geom.MaxDims]uint64
	Count  uint64
}

// PatchTable lists the patch entries of every rank, indexed [rank][patch].
type PatchTable [][]PatchEntry

// MaxCount returns the largest patch count of any rank.
func (t PatchTable) MaxCount() int {
	n := 0
	for _, list := range t {
		n = max(n, len(list))
	}

	return n
}

// Bytes encodes the table as big-endian words: the rank count, the maximum
// patch count, then for every rank its patch count followed by MaxCount
// entries, zero padded. A 32-bit checksum of the words ends the table.
func (t PatchTable) Bytes() []byte {
	engine := endian.GetBigEndianEngine()
	maxCount := t.MaxCount()

	out := make([]byte, 0, 8*(2+len(t)*(1+maxCount*entryWords))+4)
	out = engine.AppendUint64(out, uint64(len(t)))
	out = engine.AppendUint64(out, uint64(maxCount))
	for _, list := range t {
		out = engine.AppendUint64(out, uint64(len(list)))
		for i := range maxCount {
			var e PatchEntry
			if i < len(list) {
				e = list[i]
			}
			for _, w := range e.words() {
				out = engine.AppendUint64(out, w)
			}
		}
	}

	return engine.AppendUint32(out, hash.Checksum32(out))
}

// ParsePatchTable decodes a table written by Bytes.
func ParsePatchTable(data []byte) (PatchTable, error) {
	engine := endian.GetBigEndianEngine()
	if len(data) < 20 {
		return nil, fmt.Errorf("%w: patch table of %d bytes", errs.ErrShortRead, len(data))
	}

	body := data[:len(data)-4]
	if got, want := hash.Checksum32(body), engine.Uint32(data[len(data)-4:]); got != want {
		return nil, fmt.Errorf("%w: patch table checksum %08x, want %08x", errs.ErrHeaderChecksum, got, want)
	}

	nprocs := engine.Uint64(body[0:])
	maxCount := engine.Uint64(body[8:])
	want := 8 * (2 + nprocs*(1+maxCount*entryWords))
	if uint64(len(body)) != want {
		return nil, fmt.Errorf("%w: patch table of %d bytes, want %d", errs.ErrInvalidHeaderSize, len(body), want)
	}

	words := make([]uint64, len(body)/8-2)
	for i := range words {
		words[i] = engine.Uint64(body[16+8*i:])
	}

	t := make(PatchTable, nprocs)
	stride := 1 + int(maxCount)*entryWords
	for r := range t {
		w := words[r*stride : (r+1)*stride]
		count := int(w[0])
		if count > int(maxCount) {
			return nil, fmt.Errorf("%w: rank %d lists %d patches, maximum %d", errs.ErrInvalidHeaderSize, r, count, maxCount)
		}
		t[r] = make([]PatchEntry, count)
		for i := range count {
			t[r][i] = entryFromWords(w[1+i*entryWords:])
		}
	}

	return t, nil
}

// FlattenEntries encodes entries as words for an allgather.
func FlattenEntries(entries []PatchEntry) []uint64 {
	out := make([]uint64, 0, len(entries)*entryWords)
	for _, e := range entries {
		out = append(out, e.words()...)
	}

	return out
}

// UnflattenEntries decodes words produced by FlattenEntries.
func UnflattenEntries(words []uint64) ([]PatchEntry, error) {
	if len(words)%entryWords != 0 {
		return nil, fmt.Errorf("%w: %d patch entry words", errs.ErrSizeMismatch, len(words))
	}

	out := make([]PatchEntry, len(words)/entryWords)
	for i := range out {
		out[i] = entryFromWords(words[i*entryWords:])
	}

	return out, nil
}

// WritePatchTable writes t to path, creating its directory.
func WritePatchTable(path string, t PatchTable) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	if err := os.WriteFile(path, t.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	return nil
}

// ReadPatchTable reads the table at path.
func ReadPatchTable(path string) (PatchTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	t, err := ParsePatchTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}

func (e PatchEntry) words() []uint64 {
	w := make([]uint64, 0, entryWords)
	w = append(w, e.Offset[:]...)
	w = append(w, e.Size[:]...)

	return append(w, e.Count)
}

func entryFromWords(w []uint64) PatchEntry {
	var e PatchEntry
	copy(e.Offset[:], w[:geom.MaxDims])
	copy(e.Size[:], w[geom.MaxDims:2*geom.MaxDims])
	e.Count = w[2*geom.MaxDims]

	return e
}
