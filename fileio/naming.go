// Package fileio names, opens, reads and writes the binary files of an IDX
// dataset.
//
// A dataset "<dir>/<base>.idx" keeps its data files under
// "<dir>/<base>/time%09d/", named by a filename template derived from the
// number of block-number bits. Template segments "%0Nx" are filled from the
// first block number of the file, lowest bits in the last segment.
package fileio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/arloliu/idxio/errs"
)

// MaxTemplateDepth bounds the number of "%0Nx" segments of a template.
const MaxTemplateDepth = 6

// Template returns the filename template for a dataset whose block numbers
// need maxh-bpb bits. The bit count is rounded up to a multiple of 4:
// up to 16 bits give a flat directory of %02x, %03x or %04x files, wider
// numbers add one %02x directory level per 8 bits.
func Template(maxh, bpb int) string {
	nbits := maxh - bpb
	if nbits <= 0 {
		return "%01x.bin"
	}
	if nbits%4 != 0 {
		nbits += 4 - nbits%4
	}

	switch {
	case nbits <= 8:
		return "%02x.bin"
	case nbits <= 12:
		return "%03x.bin"
	case nbits <= 16:
		return "%04x.bin"
	}

	var sb strings.Builder
	for nbits > 16 {
		sb.WriteString("%02x/")
		nbits -= 8
	}
	sb.WriteString("%04x.bin")

	return sb.String()
}

// FileName fills a template for file fileNo of a dataset with bpf blocks
// per file. The address fileNo*bpf is split into the segments from the
// right, each taking as many hex digits as its width.
//
// Parameters:
//   - template: Template returned by Template or read from metadata
//   - fileNo: File number
//   - bpf: Blocks per file
//
// Returns:
//   - string: Relative file path, slash separated
//   - error: ErrMalformedMetadata for unsupported templates
func FileName(template string, fileNo, bpf int) (string, error) {
	address := uint64(fileNo) * uint64(bpf)

	var segs []any
	for pos := len(template) - 4; pos >= 0; pos-- {
		if template[pos] != '%' || template[pos+1] != '0' || template[pos+3] != 'x' {
			continue
		}
		if len(segs) >= MaxTemplateDepth {
			return "", fmt.Errorf("%w: template %q is too deep", errs.ErrMalformedMetadata, template)
		}

		width := template[pos+2]
		if width < '1' || width > '5' {
			return "", fmt.Errorf("%w: template %q segment width %c", errs.ErrMalformedMetadata, template, width)
		}
		shift := 4 * uint(width-'0')
		segs = append(segs, address&(1<<shift-1))
		address >>= shift
	}

	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}

	return fmt.Sprintf(template, segs...), nil
}

// Paths locates the files of one dataset.
type Paths struct {
	// Dir is the directory holding the metadata file.
	Dir string
	// Base is the dataset name without the ".idx" suffix.
	Base string
	// Template is the data filename template.
	Template string
	// BlocksPerFile is used to fill Template.
	BlocksPerFile int
}

// NewPaths splits a metadata file name into its directory and base name.
func NewPaths(idxFile, template string, bpf int) Paths {
	return Paths{
		Dir:           filepath.Dir(idxFile),
		Base:          strings.TrimSuffix(filepath.Base(idxFile), ".idx"),
		Template:      template,
		BlocksPerFile: bpf,
	}
}

// MetadataFile returns the path of the ".idx" file.
func (p Paths) MetadataFile() string {
	return filepath.Join(p.Dir, p.Base+".idx")
}

// DataDir returns the directory of the data files of time step t.
func (p Paths) DataDir(t int) string {
	return filepath.Join(p.Dir, p.Base, TimeDir(t))
}

// DataFile returns the path of data file fileNo of time step t.
func (p Paths) DataFile(t, fileNo int) (string, error) {
	name, err := FileName(p.Template, fileNo, p.BlocksPerFile)
	if err != nil {
		return "", err
	}

	return filepath.Join(p.DataDir(t), filepath.FromSlash(name)), nil
}

// SideFile returns the path of the patch table of time step t.
func (p Paths) SideFile(t int) string {
	return filepath.Join(p.DataDir(t), p.Base+SideFileSuffix)
}

// PatchFile returns the path of patch index of rank in time step t, used by
// raw and particle datasets.
func (p Paths) PatchFile(t, rank, index int) string {
	return filepath.Join(p.DataDir(t), fmt.Sprintf("%d_%d", rank, index))
}

// Partition returns the paths of partition i, stored next to the dataset as
// "<base>_<i>".
func (p Paths) Partition(i int) Paths {
	q := p
	q.Base = fmt.Sprintf("%s_%d", p.Base, i)

	return q
}

// TimeDir returns the directory name of time step t.
func TimeDir(t int) string {
	return fmt.Sprintf("time%09d", t)
}
