package section

import (
	"fmt"

	"github.com/arloliu/idxio/endian"
	"github.com/arloliu/idxio/errs"
	"github.com/arloliu/idxio/format"
	"github.com/arloliu/idxio/internal/hash"
)

// FileHeader is the binary header at the start of every IDX data file.
type FileHeader struct {
	// BlocksPerFile is the number of block slots per variable.
	BlocksPerFile uint32 // word 2
	// VarCount is the number of variables sharing the file.
	VarCount uint32 // word 3
	// Codec is the block codec the file was written with.
	Codec format.CompressionType // word 4
	// BitsPerBlock is log2 of the samples per block.
	BitsPerBlock uint32 // word 6
	// DataOffset is the header size after alignment; block data starts here.
	DataOffset uint32 // word 7

	// Records holds BlocksPerFile records per variable, variable-major:
	// the record of local block i of variable v is Records[i+BlocksPerFile*v].
	Records []BlockRecord
}

// HeaderSize returns the size of a header with bpf blocks and varCount
// variables, (10 + 10*bpf) * 4 * varCount bytes, rounded up to a multiple
// of align when align is positive.
func HeaderSize(bpf, varCount, align int) int {
	size := (PrefixWords + RecordWords*bpf) * WordSize * varCount
	if align > 0 {
		size = (size + align - 1) / align * align
	}

	return size
}

// NewFileHeader creates a header with every block absent.
//
// Parameters:
//   - bpf: Blocks per file
//   - bpb: Bits per block
//   - varCount: Number of variables in the file
//   - codec: Block codec
//   - align: Header alignment in bytes, or 0
func NewFileHeader(bpf, bpb, varCount int, codec format.CompressionType, align int) *FileHeader {
	return &FileHeader{
		BlocksPerFile: uint32(bpf),
		VarCount:      uint32(varCount),
		Codec:         codec,
		BitsPerBlock:  uint32(bpb),
		DataOffset:    uint32(HeaderSize(bpf, varCount, align)),
		Records:       make([]BlockRecord, bpf*varCount),
	}
}

// Record returns the record of local block i of variable v.
func (h *FileHeader) Record(i, v int) *BlockRecord {
	return &h.Records[i+int(h.BlocksPerFile)*v]
}

// Size returns the size of the serialized header, DataOffset.
func (h *FileHeader) Size() int {
	return int(h.DataOffset)
}

func (h *FileHeader) recordBytes(engine endian.EndianEngine) []byte {
	b := make([]byte, len(h.Records)*RecordSize)
	off := 0
	for _, r := range h.Records {
		off = r.WriteToSlice(b, off, engine)
	}

	return b
}

// Bytes serializes the header, big-endian, padded with zeros to DataOffset.
func (h *FileHeader) Bytes() []byte {
	engine := endian.GetBigEndianEngine()
	records := h.recordBytes(engine)

	b := make([]byte, max(int(h.DataOffset), PrefixSize+len(records)))
	engine.PutUint32(b[prefixMagic*WordSize:], MagicIDX)
	engine.PutUint32(b[prefixVersion*WordSize:], Version)
	engine.PutUint32(b[prefixBPF*WordSize:], h.BlocksPerFile)
	engine.PutUint32(b[prefixVarCount*WordSize:], h.VarCount)
	engine.PutUint32(b[prefixCodec*WordSize:], uint32(h.Codec))
	engine.PutUint32(b[prefixChecksum*WordSize:], hash.Checksum32(records))
	engine.PutUint32(b[prefixBPB*WordSize:], h.BitsPerBlock)
	engine.PutUint32(b[prefixDataOffset*WordSize:], h.DataOffset)
	copy(b[PrefixSize:], records)

	return b
}

// Parse parses the header from a byte slice.
//
// Parameters:
//   - data: Header bytes, at least the unaligned header size
//
// Returns:
//   - error: ErrInvalidHeaderSize for short data, ErrInvalidMagic for foreign
//     files, ErrHeaderChecksum for corrupt records, or ErrInvalidHeaderFlag
func (h *FileHeader) Parse(data []byte) error {
	if len(data) < PrefixSize {
		return errs.ErrInvalidHeaderSize
	}

	engine := endian.GetBigEndianEngine()
	if engine.Uint32(data[prefixMagic*WordSize:]) != MagicIDX {
		return errs.ErrInvalidMagic
	}
	if v := engine.Uint32(data[prefixVersion*WordSize:]); v != Version {
		return fmt.Errorf("%w: version %d", errs.ErrInvalidMagic, v)
	}

	h.BlocksPerFile = engine.Uint32(data[prefixBPF*WordSize:])
	h.VarCount = engine.Uint32(data[prefixVarCount*WordSize:])
	h.Codec = format.CompressionType(engine.Uint32(data[prefixCodec*WordSize:]))
	h.BitsPerBlock = engine.Uint32(data[prefixBPB*WordSize:])
	h.DataOffset = engine.Uint32(data[prefixDataOffset*WordSize:])

	n := int(h.BlocksPerFile) * int(h.VarCount)
	end := PrefixSize + n*RecordSize
	if len(data) < end || int(h.DataOffset) < end {
		return fmt.Errorf("%w: %d bytes for %d records", errs.ErrInvalidHeaderSize, len(data), n)
	}

	records := data[PrefixSize:end]
	if hash.Checksum32(records) != engine.Uint32(data[prefixChecksum*WordSize:]) {
		return errs.ErrHeaderChecksum
	}

	h.Records = make([]BlockRecord, n)
	for i := range h.Records {
		r, err := ParseBlockRecord(records[i*RecordSize:], engine)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		h.Records[i] = r
	}

	return nil
}

// ParseFileHeader parses a FileHeader from a byte slice.
func ParseFileHeader(data []byte) (*FileHeader, error) {
	h := &FileHeader{}
	if err := h.Parse(data); err != nil {
		return nil, err
	}

	return h, nil
}

// PrefixDataOffset returns the DataOffset word from the prefix of a header,
// so readers can size the full header read.
func PrefixDataOffset(prefix []byte) (int, error) {
	if len(prefix) < PrefixSize {
		return 0, errs.ErrInvalidHeaderSize
	}

	engine := endian.GetBigEndianEngine()
	if engine.Uint32(prefix[prefixMagic*WordSize:]) != MagicIDX {
		return 0, errs.ErrInvalidMagic
	}

	return int(engine.Uint32(prefix[prefixDataOffset*WordSize:])), nil
}
