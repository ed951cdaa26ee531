// Package metadata reads and writes the ".idx" text file describing an IDX
// dataset.
//
// The file is a sequence of tags, each a line in parentheses followed by
// its value lines:
//
//	(version)
//	6.1
//	(io mode)
//	idx
//	(box)
//	0 63 0 63 0 63 0 0 0 0
//	(fields)
//	pressure 1*float64 +
//	velocity 3*float32
//	(bits)
//	V012012012012012012
//	(bitsperblock)
//	15
//	(blocksperfile)
//	256
//	(filename_template)
//	./%04x.bin
//	(time)
//	0 3 time%09d/
//
// Unknown tags are skipped, so files written by newer versions stay
// readable.
package metadata

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/geom"
	"github.com/arloliu/idxio/hz"
)

// CurrentVersion is written under the "(version)" tag.
const CurrentVersion = "6.1"

// Tag names.
const (
	TagVersion         = "(version)"
	TagIOMode          = "(io mode)"
	TagBox             = "(box)"
	TagPhysicalBox     = "(physical box)"
	TagPartitionCount  = "(partition count)"
	TagPartitionSize   = "(partition size)"
	TagPartitionOffset = "(partition offset)"
	TagPartitionIndex  = "(partition index)"
	TagEndian          = "(endian)"
	TagRestructureBox  = "(restructure box size)"
	TagCores           = "(cores)"
	TagBitRate         = "(compression bit rate)"
	TagCompression     = "(compression type)"
	TagChunkSize       = "(chunk size)"
	TagFields          = "(fields)"
	TagBits            = "(bits)"
	TagBitsPerBlock    = "(bitsperblock)"
	TagBlocksPerFile   = "(blocksperfile)"
	TagTemplate        = "(filename_template)"
	TagTime            = "(time)"
)

// Variable is one entry of the "(fields)" list.
type Variable struct {
	Name string
	Type format.DataType
}

// Metadata is the content of a ".idx" file.
type Metadata struct {
	Version string
	Mode    format.IOMode
	// Bounds is the extent of the dataset, or of the partition in partition
	// metadata files.
	Bounds         geom.Point
	PhysicalBounds [geom.MaxDims]float64

	PartitionCount  geom.Point
	PartitionSize   geom.Point
	PartitionOffset geom.Point
	// PartitionIndex is -1 outside partition metadata files.
	PartitionIndex int

	Endian         endian.EndianEngine
	RestructureBox geom.Point
	Cores          int

	// BitRate is the number of bits per value after the sample codec.
	BitRate     int
	Compression format.CompressionType
	ChunkSize   geom.Point

	Fields        []Variable
	Bits          string
	BitsPerBlock  int
	BlocksPerFile int
	Template      string

	FirstTime int
	LastTime  int
}

// New returns metadata with the defaults of a fresh dataset.
func New() *Metadata {
	return &Metadata{
		Version:        CurrentVersion,
		Mode:           format.ModeIDX,
		PartitionCount: geom.Extent(),
		PartitionIndex: -1,
		Endian:         endian.GetNativeEngine(),
		Compression:    format.CompressionNone,
		ChunkSize:      geom.Extent(),
	}
}

// Pattern parses the "(bits)" value, whose length gives maxh.
func (m *Metadata) Pattern() (hz.Pattern, error) {
	if m.Bits == "" {
		return hz.Pattern{}, fmt.Errorf("%w: %s", errs.ErrMissingTag, TagBits)
	}

	return hz.ParsePattern(m.Bits)
}

// Variable returns the index of the field called name.
func (m *Metadata) Variable(name string) (int, error) {
	for i, v := range m.Fields {
		if v.Name == name {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: %q", errs.ErrUnknownVariable, name)
}

// Validate checks that the tags needed to read the dataset are present.
func (m *Metadata) Validate() error {
	missing := func(tag string) error {
		return fmt.Errorf("%w: %s", errs.ErrMissingTag, tag)
	}

	if len(m.Fields) == 0 {
		return missing(TagFields)
	}
	if m.Mode == format.ModeParticle {
		return nil
	}
	if m.Bounds.Volume() == 0 {
		return missing(TagBox)
	}
	if m.Mode == format.ModeRaw {
		if m.RestructureBox.Volume() == 0 {
			return missing(TagRestructureBox)
		}

		return nil
	}
	switch {
	case m.Bits == "":
		return missing(TagBits)
	case m.BitsPerBlock <= 0:
		return missing(TagBitsPerBlock)
	case m.BlocksPerFile <= 0:
		return missing(TagBlocksPerFile)
	case m.Template == "":
		return missing(TagTemplate)
	}

	return nil
}

// Encode writes the metadata in ".idx" syntax.
func (m *Metadata) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	tag := func(name, value string, args ...any) {
		fmt.Fprintf(bw, "%s\n"+value+"\n", append([]any{name}, args...)...)
	}

	tag(TagVersion, "%s", m.Version)
	tag(TagIOMode, "%s", m.Mode)
	tag(TagBox, "%s", formatBox(m.Bounds))
	if m.PhysicalBounds != ([geom.MaxDims]float64{}) {
		tag(TagPhysicalBox, "%s", formatPhysicalBox(m.PhysicalBounds))
	}
	if m.Mode.IsPartitioned() {
		tag(TagPartitionCount, "%s", formatPoint(m.PartitionCount, 3))
	}
	if m.PartitionIndex >= 0 {
		tag(TagPartitionSize, "%s", formatPoint(m.PartitionSize, 3))
		tag(TagPartitionOffset, "%s", formatPoint(m.PartitionOffset, 3))
		tag(TagPartitionIndex, "%d", m.PartitionIndex)
	}
	tag(TagEndian, "%s", endian.Name(m.Endian))
	if m.RestructureBox != (geom.Point{}) {
		tag(TagRestructureBox, "%s", formatPoint(m.RestructureBox, 3))
	}
	if m.Cores > 0 {
		tag(TagCores, "%d", m.Cores)
	}
	tag(TagBitRate, "%d", m.BitRate)
	tag(TagCompression, "%s", strings.ToLower(m.Compression.String()))
	if m.ChunkSize != (geom.Point{}) && m.ChunkSize != geom.Extent() {
		tag(TagChunkSize, "%s", formatPoint(m.ChunkSize, 3))
	}
	fmt.Fprintf(bw, "%s\n%s\n", TagFields, FormatFields(m.Fields))
	if m.Bits != "" {
		tag(TagBits, "%s", m.Bits)
	}
	if m.BitsPerBlock > 0 {
		tag(TagBitsPerBlock, "%d", m.BitsPerBlock)
	}
	if m.BlocksPerFile > 0 {
		tag(TagBlocksPerFile, "%d", m.BlocksPerFile)
	}
	if m.Template != "" {
		tag(TagTemplate, "./%s", m.Template)
	}
	tag(TagTime, "%d %d time%%09d/", m.FirstTime, m.LastTime)

	return bw.Flush()
}

// Bytes returns the encoded metadata.
func (m *Metadata) Bytes() []byte {
	var buf bytes.Buffer
	_ = m.Encode(&buf)

	return buf.Bytes()
}

// WriteFile writes the metadata to path, creating its directory.
func (m *Metadata) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	if err := os.WriteFile(path, m.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}

	return nil
}

// ReadFile parses the metadata file at path.
func ReadFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// formatBox writes an extent as inclusive "from to" pairs over five
// dimensions.
func formatBox(p geom.Point) string {
	parts := make([]string, 0, 2*geom.MaxDims)
	for d := range geom.MaxDims {
		hi := uint64(0)
		if p[d] > 0 {
			hi = p[d] - 1
		}
		parts = append(parts, "0", fmt.Sprint(hi))
	}

	return strings.Join(parts, " ")
}

func formatPhysicalBox(p [geom.MaxDims]float64) string {
	parts := make([]string, 0, 2*geom.MaxDims)
	for d := range geom.MaxDims {
		parts = append(parts, "0", fmt.Sprintf("%f", p[d]))
	}

	return strings.Join(parts, " ")
}

func formatPoint(p geom.Point, n int) string {
	last := n
	for d := n; d < geom.MaxDims; d++ {
		if p[d] > 1 {
			last = d + 1
		}
	}

	parts := make([]string, last)
	for d := range last {
		parts[d] = fmt.Sprint(p[d])
	}

	return strings.Join(parts, " ")
}
